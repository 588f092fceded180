package relay

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatrelay/internal/audit"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
	"github.com/Tyrowin/chatrelay/internal/session"
)

const auditTimeout = 2 * time.Second

// auditObserver turns session lifecycle callbacks into audit events.
type auditObserver struct {
	store audit.Store
	log   *logrus.Entry
}

func (o *auditObserver) SessionJoined(s *session.Session) {
	o.record(audit.Event{
		Kind:       audit.KindJoin,
		Client:     s.Name(),
		SessionID:  s.ID(),
		RemoteAddr: s.RemoteAddr(),
	})
}

func (o *auditObserver) SessionRejected(s *session.Session, proposed string, err error) {
	reason := protocol.MsgNameInUse
	if errors.Is(err, registry.ErrInvalidName) {
		reason = protocol.MsgInvalidName
	}
	o.record(audit.Event{
		Kind:       audit.KindReject,
		Client:     proposed,
		SessionID:  s.ID(),
		RemoteAddr: s.RemoteAddr(),
		Reason:     reason,
	})
}

// SessionClosed records a leave for sessions that had joined.
func (o *auditObserver) SessionClosed(s *session.Session) {
	if s.Name() == "" {
		return
	}
	o.record(audit.Event{
		Kind:       audit.KindLeave,
		Client:     s.Name(),
		SessionID:  s.ID(),
		RemoteAddr: s.RemoteAddr(),
		Reason:     s.Reason(),
	})
}

func (o *auditObserver) record(e audit.Event) {
	e.At = time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()

	if err := o.store.Record(ctx, e); err != nil {
		o.log.WithError(err).WithFields(logrus.Fields{
			"client": e.Client,
			"kind":   e.Kind,
		}).Warn("Failed to record audit event")
	}
}
