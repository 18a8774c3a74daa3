package display

import (
	"testing"

	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

func litPixels(img *image1bit.VerticalLSB, minY, maxY int) int {
	n := 0
	for y := minY; y < maxY; y++ {
		for x := 0; x < width; x++ {
			if img.BitAt(x, y) == image1bit.On {
				n++
			}
		}
	}
	return n
}

func TestRenderBounds(t *testing.T) {
	img := Render(Status{})
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		t.Errorf("Bounds = %v, want %dx%d", b, width, height)
	}
}

func TestRenderWaiting(t *testing.T) {
	img := Render(Status{})
	if litPixels(img, 0, line) == 0 {
		t.Error("status row is blank")
	}
	// Row 2 descenders reach two pixels below its baseline.
	if litPixels(img, 3*line+2, height) != 0 {
		t.Error("counter row drawn before any sample")
	}
}

func TestRenderSample(t *testing.T) {
	img := Render(Status{
		Connected:  true,
		Endpoint:   "192.168.1.20:1593",
		Sample:     sample.Sample{GravityZ: 9.8, GyroX: 0.1},
		HaveSample: true,
		Sent:       42,
	})

	for row := 0; row < 4; row++ {
		if litPixels(img, row*line, (row+1)*line) == 0 {
			t.Errorf("row %d is blank", row)
		}
	}
}
