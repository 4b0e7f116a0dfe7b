package audio

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"
)

// DeviceRenderer plays PCM16 fragments on the local audio device. Used by the
// CLI client; the server never touches an audio device.
type DeviceRenderer struct {
	ctx *oto.Context
}

var _ Renderer = (*DeviceRenderer)(nil)

// NewDeviceRenderer opens the device for mono 16-bit playback at the given
// sample rate and blocks until the device is ready.
func NewDeviceRenderer(sampleRate int) (*DeviceRenderer, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("on creating audio context: %w", err)
	}
	<-ready
	return &DeviceRenderer{ctx: ctx}, nil
}

func (r *DeviceRenderer) Render(pcm []byte) error {
	player := r.ctx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()
	for player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	if err := player.Err(); err != nil {
		return fmt.Errorf("on playing audio fragment: %w", err)
	}
	return nil
}
