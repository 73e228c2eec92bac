package avatar

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/spatialwalk/livekit-plugins-spatialreal/internal/spatialreal"
)

// ConnectionDescriptor is everything needed to open one avatar session. It
// is built once per Start and passed by value.
type ConnectionDescriptor struct {
	APIKey              string
	AppID               string
	AvatarID            string
	ConsoleEndpoint     string
	IngressEndpoint     string
	ParticipantIdentity string
	ExpireAt            time.Time
	SampleRate          int
	Egress              spatialreal.LiveKitEgress
}

func buildDescriptor(r resolved, lk StartOptions, roomName string, sampleRate int, now time.Time) (ConnectionDescriptor, error) {
	expireAt := now.Add(r.sessionTTL)

	token, err := avatarJoinToken(lk, roomName, r.participantIdentity, r.sessionTTL)
	if err != nil {
		return ConnectionDescriptor{}, err
	}

	return ConnectionDescriptor{
		APIKey:              r.apiKey,
		AppID:               r.appID,
		AvatarID:            r.avatarID,
		ConsoleEndpoint:     r.consoleEndpoint,
		IngressEndpoint:     r.ingressEndpoint,
		ParticipantIdentity: r.participantIdentity,
		ExpireAt:            expireAt,
		SampleRate:          sampleRate,
		Egress: spatialreal.LiveKitEgress{
			URL:         lk.LiveKitURL,
			APIKey:      lk.LiveKitAPIKey,
			APISecret:   lk.LiveKitAPISecret,
			RoomName:    roomName,
			PublisherID: r.participantIdentity,
			Token:       token,
		},
	}, nil
}

// avatarJoinToken mints a LiveKit token that lets the avatar participant join
// roomName and publish its tracks for ttl
func avatarJoinToken(lk StartOptions, roomName, identity string, ttl time.Duration) (string, error) {
	canPublish := true
	canSubscribe := false

	at := auth.NewAccessToken(lk.LiveKitAPIKey, lk.LiveKitAPISecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin:     true,
		Room:         roomName,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}).
		SetIdentity(identity).
		SetName(identity).
		SetValidFor(ttl)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to sign avatar join token: %w", err)
	}
	return token, nil
}
