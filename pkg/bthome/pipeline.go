package bthome

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Device is a sensor the pipeline decodes frames for.
type Device struct {
	Address Address
	BindKey BindKey
}

// Advertisement is one received advertisement of a device.
type Advertisement struct {
	Address     Address
	RSSI        int16
	ServiceData []ServiceData
}

// Frame is a successfully decoded service-data record.
type Frame struct {
	Address Address
	UUID    uint16
	RSSI    int16
	Classification
	Measurements
}

type device struct {
	address Address
	cipher  *Cipher
}

// Pipeline decodes BTHome records of a fixed set of devices. Duplicate
// filtering state is kept per device address.
type Pipeline struct {
	devices map[Address]*device
	filter  *DuplicateFilter
	logger  *zap.Logger
	meter   metric.Meter
	frames  metric.Int64Counter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for per-record diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithDuplicateFilter shares an existing duplicate filter with the pipeline.
func WithDuplicateFilter(filter *DuplicateFilter) Option {
	return func(p *Pipeline) {
		p.filter = filter
	}
}

// WithMeter sets the meter used for the bthome.frames counter.
// Defaults to the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(p *Pipeline) {
		p.meter = meter
	}
}

// NewPipeline creates a pipeline for the given devices.
func NewPipeline(devices []Device, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		devices: make(map[Address]*device, len(devices)),
		logger:  zap.NewNop(),
		meter:   otel.Meter("bthome"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.filter == nil {
		p.filter = NewDuplicateFilter()
	}

	frames, err := p.meter.Int64Counter("bthome.frames",
		metric.WithDescription("BTHome service-data records processed, by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		p.logger.Warn("failed to create frames counter, continuing without it", zap.Error(err))
		frames, _ = noop.NewMeterProvider().Meter("bthome").Int64Counter("bthome.frames")
	}
	p.frames = frames

	for _, d := range devices {
		if _, ok := p.devices[d.Address]; ok {
			return nil, fmt.Errorf("duplicate device %s", d.Address)
		}

		c, err := NewCipher(d.BindKey)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Address, err)
		}
		if d.BindKey.IsZero() {
			p.logger.Warn("device has no bind key, encrypted frames will fail authentication",
				zap.String("mac", d.Address.String()),
			)
		}

		p.devices[d.Address] = &device{address: d.Address, cipher: c}
	}

	return p, nil
}

// Tracks reports whether addr is one of the configured devices.
func (p *Pipeline) Tracks(addr Address) bool {
	_, ok := p.devices[addr]
	return ok
}

// Process decodes every service-data record of an advertisement. Records are
// independent: a failing record is skipped and the rest still decode. The
// boolean is true when at least one record produced a frame. Advertisements
// from unknown addresses yield nothing.
func (p *Pipeline) Process(adv Advertisement) ([]Frame, bool) {
	if !p.Tracks(adv.Address) {
		return nil, false
	}

	var frames []Frame
	for _, sd := range adv.ServiceData {
		frame, err := p.DecodeServiceData(adv.Address, sd)
		if err != nil {
			continue
		}
		frame.RSSI = adv.RSSI
		frames = append(frames, frame)
	}

	return frames, len(frames) > 0
}

// DecodeServiceData runs one record through classification, duplicate
// filtering, decryption and field decoding. The record is not modified.
func (p *Pipeline) DecodeServiceData(addr Address, sd ServiceData) (Frame, error) {
	frame, err := p.decode(addr, sd)
	p.record(addr, sd, err)
	return frame, err
}

func (p *Pipeline) decode(addr Address, sd ServiceData) (Frame, error) {
	dev, ok := p.devices[addr]
	if !ok {
		return Frame{}, errors.Wrapf(ErrNotApplicable, "unknown MAC address %s", addr)
	}

	class, err := Classify(sd)
	if err != nil {
		return Frame{}, err
	}

	// The counter is burned before authentication so a tampered frame can't be retried.
	if !p.filter.Accept(addr, class.FrameCounter) {
		return Frame{}, errors.Wrapf(ErrDuplicate, "duplicate data packet received (%d)", class.FrameCounter)
	}

	payload := sd.Data
	if class.Encrypted {
		payload, err = dev.cipher.Decrypt(addr, sd.Data)
		if err != nil {
			return Frame{}, err
		}
	}

	m, err := DecodeFields(payload, class.PayloadOffset)
	if err != nil {
		return Frame{}, err
	}

	return Frame{
		Address:        addr,
		UUID:           sd.UUID,
		Classification: class,
		Measurements:   m,
	}, nil
}

func (p *Pipeline) record(addr Address, sd ServiceData, err error) {
	outcome := OutcomeOf(err)
	p.frames.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))

	// Records that aren't ours are expected noise.
	if err == nil || outcome == OutcomeNotApplicable {
		return
	}

	if ce := p.logger.Check(zap.DebugLevel, "skipping service data record"); ce != nil {
		ce.Write(
			zap.String("mac", addr.String()),
			zap.String("uuid", fmt.Sprintf("0x%04X", sd.UUID)),
			zap.String("outcome", outcome),
			zap.String("packet", hex.EncodeToString(sd.Data)),
			zap.Error(err),
		)
	}
}
