package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"dvs-emu-go/internal/clock"
	"dvs-emu-go/internal/logger"
	"dvs-emu-go/internal/mailbox"
	"dvs-emu-go/internal/types"
)

const recvTimeout = 200 * time.Millisecond

// Recorder receives every raw payload before it is decoded.
type Recorder interface {
	Record(payload []byte) error
}

type Config struct {
	Endpoint string
	Height   int
	Width    int
	LogEvery int
	Recorder Recorder
}

// Receiver pulls CBOR frame messages from a ZMQ PUSH socket and publishes
// them to a mailbox:
//
//	{ "type": "image", "frame_index": <uint>, "data": tag40[[rows, cols], tag64(...)] }
//
// Frames are stamped on arrival and re-indexed locally.
type Receiver struct {
	cfg       Config
	mb        *mailbox.Mailbox
	publisher *framePublisher
	log       *logger.Logger
	noisy     *logger.Logger
}

func NewReceiver(cfg Config, mb *mailbox.Mailbox) *Receiver {
	if cfg.LogEvery < 1 {
		cfg.LogEvery = 1
	}
	log := logger.Named("ingest")
	return &Receiver{
		cfg:       cfg,
		mb:        mb,
		publisher: &framePublisher{height: cfg.Height, width: cfg.Width, mb: mb},
		log:       log,
		noisy:     logger.Sampled(log, cfg.LogEvery),
	}
}

// Run receives until ctx is done. Socket setup errors are returned; per
// message errors are logged and skipped.
func (r *Receiver) Run(ctx context.Context) error {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return err
	}
	defer socket.Close()
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		return err
	}
	if err := socket.SetRcvhwm(4); err != nil {
		return err
	}
	if err := socket.Connect(r.cfg.Endpoint); err != nil {
		return fmt.Errorf("connect %s: %w", r.cfg.Endpoint, err)
	}
	r.log.Info().Str("endpoint", r.cfg.Endpoint).Msg("ingest connected")

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := socket.RecvBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				continue
			}
			r.noisy.Warn().Err(err).Msg("ingest recv error")
			continue
		}

		if r.cfg.Recorder != nil {
			if err := r.cfg.Recorder.Record(msg); err != nil {
				r.noisy.Warn().Err(err).Msg("raw log record failed")
			}
		}

		if err := r.publisher.publish(msg); err != nil {
			r.noisy.Warn().Err(err).Msg("ingest skipped message")
		}
	}
}

func (r *Receiver) Received() uint64 {
	return r.publisher.count()
}

// framePublisher decodes payloads and republishes them with local
// timestamps and indices.
type framePublisher struct {
	height int
	width  int
	mb     *mailbox.Mailbox
	next   atomic.Uint64
}

func (p *framePublisher) publish(msg []byte) error {
	frame, err := DecodeFrame(msg)
	if err != nil {
		return err
	}
	if frame.Height != p.height || frame.Width != p.width {
		return fmt.Errorf("frame %dx%d, want %dx%d: %w", frame.Height, frame.Width, p.height, p.width, types.ErrDimensionMismatch)
	}
	frame.Index = p.next.Add(1)
	frame.TimestampUs = clock.Micros()
	p.mb.Publish(frame)
	return nil
}

func (p *framePublisher) count() uint64 {
	return p.next.Load()
}

var errNotImage = errors.New("not an image message")

// DecodeFrame parses an image message. The returned Index is the sender's
// frame_index.
func DecodeFrame(msg []byte) (types.Frame, error) {
	var payload map[string]any
	if err := cbor.Unmarshal(msg, &payload); err != nil {
		return types.Frame{}, fmt.Errorf("CBOR decode: %w", err)
	}

	msgType, _ := payload["type"].(string)
	if msgType != "image" {
		return types.Frame{}, fmt.Errorf("%w: type %q", errNotImage, msgType)
	}

	var remoteIndex uint64
	if raw, ok := payload["frame_index"]; ok {
		idx, err := toInt(raw)
		if err != nil {
			return types.Frame{}, fmt.Errorf("invalid frame_index: %w", err)
		}
		remoteIndex = uint64(idx)
	}

	rows, cols, pixels, err := decodeMultiDimArray(payload["data"])
	if err != nil {
		return types.Frame{}, fmt.Errorf("invalid data field: %w", err)
	}

	return types.Frame{
		Height: rows,
		Width:  cols,
		Data:   pixels,
		Index:  remoteIndex,
	}, nil
}

// EncodeFrame builds the wire message for frame. algorithm may be empty
// (raw bytes), "lz4" or "zstd".
func EncodeFrame(frame types.Frame, algorithm string) ([]byte, error) {
	data, err := encodeMultiDimArray(frame.Height, frame.Width, frame.Data, algorithm)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(map[string]any{
		"type":        "image",
		"frame_index": frame.Index,
		"data":        data,
	})
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported int type %T", v)
	}
}
