// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display renders the sender status on a 128x64 SSD1306 OLED.
package display

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

const (
	width  = 128
	height = 64
	line   = 13 // basicfont.Face7x13 line height
)

// Status is what the panel shows.
type Status struct {
	Connected  bool
	Endpoint   string
	Sample     sample.Sample
	HaveSample bool
	Sent       uint64
	Dropped    uint64
}

// Render draws st into a fresh 1-bit frame.
func Render(st Status) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, width, height))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	text := func(row int, s string) {
		drawer.Dot = fixed.P(0, (row+1)*line)
		drawer.DrawString(s)
	}

	if st.Connected {
		text(0, fmt.Sprintf("> %s", st.Endpoint))
	} else {
		text(0, "Disconnected")
	}

	if !st.HaveSample {
		text(2, "Waiting...")
		return img
	}

	s := st.Sample
	text(1, fmt.Sprintf("G:%5.1f%5.1f%5.1f", s.GravityX, s.GravityY, s.GravityZ))
	text(2, fmt.Sprintf("W:%5.1f%5.1f%5.1f", s.GyroX, s.GyroY, s.GyroZ))
	text(3, fmt.Sprintf("tx %d drop %d", st.Sent, st.Dropped))
	return img
}

// Panel is an SSD1306 on the default I²C bus.
type Panel struct {
	bus    i2c.BusCloser
	dev    *ssd1306.Dev
	logger *zap.Logger
}

// Open initializes the display on the first I²C bus.
func Open(logger *zap.Logger) (*Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize display: %w", err)
	}

	logger = logger.Named("display")
	logger.Info("display initialized", zap.String("bus", bus.String()))
	return &Panel{bus: bus, dev: dev, logger: logger}, nil
}

// Run redraws the panel from status every interval until ctx is done.
func (p *Panel) Run(ctx context.Context, every time.Duration, status func() Status) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			img := Render(status())
			if err := p.dev.Draw(p.dev.Bounds(), img, image.Point{}); err != nil {
				p.logger.Warn("error updating display", zap.Error(err))
			}
		}
	}
}

// Close blanks the display and releases the bus.
func (p *Panel) Close() error {
	p.dev.Halt()
	return p.bus.Close()
}
