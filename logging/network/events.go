package network

import (
	"context"

	"moba-arena/logging"
)

const (
	ClientJoinedEventType logging.EventType = "network.client_joined"
	ClientLeftEventType   logging.EventType = "network.client_left"
	BroadcastEventType    logging.EventType = "network.snapshot_broadcast"
)

// ClientJoined records a websocket session that completed the join handshake.
func ClientJoined(ctx context.Context, pub logging.Publisher, tick uint64, client logging.EntityRef, session string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     ClientJoinedEventType,
		Tick:     tick,
		Actor:    client,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  map[string]string{"session": session},
	})
}

// ClientLeft records a disconnect, voluntary or not.
func ClientLeft(ctx context.Context, pub logging.Publisher, tick uint64, client logging.EntityRef, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     ClientLeftEventType,
		Tick:     tick,
		Actor:    client,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  map[string]string{"reason": reason},
	})
}

type BroadcastPayload struct {
	Bytes      int  `json:"bytes"`
	Entities   int  `json:"entities"`
	Compressed bool `json:"compressed"`
}

// SnapshotBroadcast samples outgoing snapshot sizes for diagnostics.
func SnapshotBroadcast(ctx context.Context, pub logging.Publisher, tick uint64, payload BroadcastPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     BroadcastEventType,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
