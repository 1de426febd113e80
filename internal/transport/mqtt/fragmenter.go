package mqtt

import (
	"github.com/genricoloni/mediapanel/internal/domain"
	"go.uber.org/zap"
)

// Fragmenter feeds broker messages to a FragmentSink in receive-buffer sized
// pieces. Only the first piece carries the topic. Pieces alias the message
// payload, nothing is copied.
type Fragmenter struct {
	logger *zap.Logger
	sink   domain.FragmentSink
	size   int
}

// NewFragmenter creates a fragmenter delivering at most size bytes per fragment.
func NewFragmenter(logger *zap.Logger, sink domain.FragmentSink, size int) *Fragmenter {
	if size <= 0 {
		size = 4096
	}
	return &Fragmenter{logger: logger, sink: sink, size: size}
}

// Handle implements domain.MessageHandler.
func (f *Fragmenter) Handle(topic string, payload []byte) {
	total := len(payload)
	off := 0
	for {
		end := min(off+f.size, total)
		frag := domain.Fragment{
			Payload:  payload[off:end],
			TotalLen: total,
			Offset:   off,
		}
		if off == 0 {
			frag.HasTopic = true
			frag.Topic = topic
		}

		ctx := f.sink.OnFragmentReceived(frag)
		if ctx == domain.TopicNone && off == 0 {
			f.logger.Debug("Message on unhandled topic", zap.String("topic", topic))
		}

		off = end
		if off >= total {
			return
		}
	}
}

// Topics lists the feed channels the panel listens on.
type Topics struct {
	State string
	Image string
}

// Bind subscribes sink to the panel topics on feed. The image topic is only
// subscribed when the sink has reassembly capacity.
func Bind(logger *zap.Logger, t *Transport, sink domain.FragmentSink, topics Topics, fragmentSize int) *Fragmenter {
	f := NewFragmenter(logger, sink, fragmentSize)

	t.Subscribe(topics.State, f.Handle)
	if sink.BufferCapacity() > 0 {
		t.Subscribe(topics.Image, f.Handle)
	} else {
		logger.Warn("No reassembly buffer, album art disabled",
			zap.String("topic", topics.Image))
	}

	t.SetConnectionLostHandler(func(error) {
		sink.OnDisconnect()
	})
	return f
}
