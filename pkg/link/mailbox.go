package link

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

var errSessionEnded = errors.New("session ended")

// mailbox buffers notifications between the connection pump and the single
// waiting sender. When full, the oldest frame is dropped.
type mailbox struct {
	ch chan string
}

func newMailbox(size int) *mailbox {
	return &mailbox{ch: make(chan string, size)}
}

func (m *mailbox) push(frame string) {
	for {
		select {
		case m.ch <- frame:
			return
		default:
		}
		select {
		case old := <-m.ch:
			logrus.WithField("frame", old).Debug("mailbox full, dropping oldest notification")
		default:
		}
	}
}

// drain discards everything buffered and returns how many frames it dropped.
func (m *mailbox) drain() int {
	n := 0
	for {
		select {
		case frame := <-m.ch:
			logrus.WithField("frame", frame).Debug("discarding stale notification")
			n++
		default:
			return n
		}
	}
}

// receive waits for the next frame. It returns errSessionEnded when done is
// closed first.
func (m *mailbox) receive(ctx context.Context, done <-chan struct{}) (string, error) {
	select {
	case frame := <-m.ch:
		return frame, nil
	case <-done:
		return "", errSessionEnded
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
