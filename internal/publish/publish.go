// Package publish fans emitted event batches out over a ZMQ PUB socket as
// CBOR messages.
package publish

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"dvs-emu-go/internal/logger"
	"dvs-emu-go/internal/types"
)

const Topic = "events"

// Batch is the wire form of one frame's events. Events encode as
// [x, y, polarity, timestamp_us] arrays.
type Batch struct {
	Type        string        `cbor:"type"`
	FrameIndex  uint64        `cbor:"frame_index"`
	TimestampUs float64       `cbor:"timestamp_us"`
	Events      []types.Event `cbor:"events"`
}

func EncodeBatch(frameIndex uint64, timestampUs float64, events []types.Event) ([]byte, error) {
	return cbor.Marshal(Batch{
		Type:        "events",
		FrameIndex:  frameIndex,
		TimestampUs: timestampUs,
		Events:      events,
	})
}

func DecodeBatch(payload []byte) (Batch, error) {
	var b Batch
	err := cbor.Unmarshal(payload, &b)
	return b, err
}

type Publisher struct {
	socket *zmq4.Socket
	log    *logger.Logger
	failed *logger.Logger
}

// New binds a PUB socket on addr, e.g. "tcp://*:31002".
func New(addr string) (*Publisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.SetSndhwm(64); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Bind(addr); err != nil {
		_ = socket.Close()
		return nil, err
	}
	log := logger.Named("publish")
	log.Info().Str("addr", addr).Msg("event publisher bound")
	return &Publisher{socket: socket, log: log, failed: logger.Sampled(log, 100)}, nil
}

// Publish sends one batch. Send errors are logged and dropped so a slow or
// absent subscriber never stalls the pipeline.
func (p *Publisher) Publish(frameIndex uint64, timestampUs float64, events []types.Event) {
	payload, err := EncodeBatch(frameIndex, timestampUs, events)
	if err != nil {
		p.failed.Warn().Err(err).Msg("encode event batch")
		return
	}
	if _, err := p.socket.SendMessageDontwait(Topic, payload); err != nil {
		p.failed.Warn().Err(err).Msg("publish event batch")
	}
}

func (p *Publisher) Close() error {
	return p.socket.Close()
}
