// Package livekit implements the room provider port on top of LiveKit.
//
// Room creation runs under a per-call timeout and a circuit breaker. Timeouts,
// transport errors and an open breaker all surface as
// domain.ErrProviderUnavailable.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	obsadapter "github.com/fairyhunter13/ai-interview-orchestrator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/config"
	"github.com/fairyhunter13/ai-interview-orchestrator/internal/domain"
)

const breakerName = "livekit"

// roomService is the subset of the LiveKit room API the provider needs.
type roomService interface {
	CreateRoom(ctx context.Context, req *lkproto.CreateRoomRequest) (*lkproto.Room, error)
}

// Provider creates LiveKit rooms and mints join tokens.
type Provider struct {
	rooms     roomService
	apiKey    string
	apiSecret string
	timeout   time.Duration
	cb        *gobreaker.CircuitBreaker
}

// New builds a Provider from configuration.
func New(cfg config.Config) *Provider {
	rooms := lksdk.NewRoomServiceClient(cfg.LiveKitURL, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret)
	return newProvider(rooms, cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.ProviderTimeout, cfg.ProviderBreakerFailures, cfg.ProviderBreakerCooldown)
}

func newProvider(rooms roomService, apiKey, apiSecret string, timeout time.Duration, failures uint32, cooldown time.Duration) *Provider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if failures == 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    breakerName,
		Timeout: cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		// A foreign room holding the name is a healthy answer.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrRoomNameTaken)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("provider circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			obsadapter.SetProviderBreakerState(name, int(to))
		},
	})
	return &Provider{rooms: rooms, apiKey: apiKey, apiSecret: apiSecret, timeout: timeout, cb: cb}
}

// CreateRoom creates spec.Name. LiveKit returns the existing room when the
// name is already in use, so a metadata mismatch means another session owns
// it and domain.ErrRoomNameTaken is returned. Every other failure, including
// an open breaker, is domain.ErrProviderUnavailable.
func (p *Provider) CreateRoom(ctx context.Context, spec domain.RoomSpec) (domain.Room, error) {
	ctx, span := otel.Tracer("roomprovider.livekit").Start(ctx, "livekit.CreateRoom")
	defer span.End()
	span.SetAttributes(attribute.String("room.name", spec.Name))

	start := time.Now()
	res, err := p.cb.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		room, err := p.rooms.CreateRoom(cctx, &lkproto.CreateRoomRequest{
			Name:            spec.Name,
			EmptyTimeout:    uint32(spec.EmptyTimeout / time.Second),
			MaxParticipants: uint32(spec.MaxParticipants),
			Metadata:        spec.Metadata,
		})
		if err != nil {
			return nil, err
		}
		if room.GetMetadata() != spec.Metadata {
			return nil, domain.ErrRoomNameTaken
		}
		return room, nil
	})
	if errors.Is(err, domain.ErrRoomNameTaken) {
		obsadapter.ObserveProviderCall("create_room", time.Since(start), nil)
		return domain.Room{}, fmt.Errorf("op=livekit.create_room name=%s: %w", spec.Name, domain.ErrRoomNameTaken)
	}
	obsadapter.ObserveProviderCall("create_room", time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return domain.Room{}, fmt.Errorf("op=livekit.create_room: %w: %v", domain.ErrProviderUnavailable, err)
	}
	room := res.(*lkproto.Room)
	return domain.Room{Name: room.GetName(), SID: room.GetSid()}, nil
}

// MintToken signs a join token scoped to roomName with publish and
// subscribe rights.
func (p *Provider) MintToken(identity, roomName string, ttl time.Duration) (string, error) {
	if identity == "" || roomName == "" || ttl <= 0 {
		return "", fmt.Errorf("op=livekit.mint_token: %w", domain.ErrInvalidArgument)
	}
	allow := true
	at := auth.NewAccessToken(p.apiKey, p.apiSecret).
		SetIdentity(identity).
		SetValidFor(ttl).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin:     true,
			Room:         roomName,
			CanPublish:   &allow,
			CanSubscribe: &allow,
		})
	jwt, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("op=livekit.mint_token: %w", err)
	}
	return jwt, nil
}
