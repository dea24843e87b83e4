package jobs

import (
	"context"
	"time"

	"codecollab/internal/models"
	"codecollab/internal/utils"
)

// RoomEventSource streams room events published by other instances.
type RoomEventSource interface {
	Subscribe(ctx context.Context, fn func(models.RoomEvent)) error
}

// RoomSyncer applies a remote room event to the local rooms.
type RoomSyncer interface {
	SyncRemote(ctx context.Context, ev models.RoomEvent) error
}

// RoomEventListener keeps this instance's live rooms in step with changes
// made through other instances.
type RoomEventListener struct {
	source RoomEventSource
	syncer RoomSyncer
	log    *utils.Logger
}

func NewRoomEventListener(source RoomEventSource, syncer RoomSyncer, log *utils.Logger) *RoomEventListener {
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &RoomEventListener{source: source, syncer: syncer, log: log}
}

// Run blocks until ctx is done or the subscription fails.
func (l *RoomEventListener) Run(ctx context.Context) error {
	l.log.Info("listening for remote room events")
	return l.source.Subscribe(ctx, l.handle)
}

func (l *RoomEventListener) handle(ev models.RoomEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.syncer.SyncRemote(ctx, ev); err != nil {
		l.log.Warn("remote room sync failed", "event", ev.Type, "roomId", ev.RoomID, "instance", ev.Instance, "error", err)
		return
	}
	l.log.Debug("remote room event applied", "event", ev.Type, "roomId", ev.RoomID, "instance", ev.Instance)
}
