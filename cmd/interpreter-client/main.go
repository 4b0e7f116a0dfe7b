// The interpreter-client binary attaches an audio file to a live translation
// session: it streams the file as microphone audio at realtime pace, prints
// transcripts and translations, and plays translated audio on the default
// output device.
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bt-bridge/realtime-interpreter/audio"
	"github.com/bt-bridge/realtime-interpreter/classify"
	"github.com/bt-bridge/realtime-interpreter/client"
	"github.com/bt-bridge/realtime-interpreter/protocol"
	"github.com/bt-bridge/realtime-interpreter/shared"
)

const (
	captureSampleRate  = 16000
	playbackSampleRate = 24000
	frameDuration      = 20 * time.Millisecond
	// 16 kHz mono PCM16: 2 bytes per sample
	frameBytes = captureSampleRate * 2 / 50
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "interpreter websocket endpoint")
	file := flag.String("file", "", "WAV or raw PCM16 file streamed as microphone audio (optional)")
	roleA := flag.String("role-a", "english", "first participant's language")
	roleB := flag.String("role-b", "spanish", "second participant's language")
	resume := flag.String("resume", "", "conversation id to reattach to")
	noPlayback := flag.Bool("no-playback", false, "skip audio output")
	flag.Parse()

	logger := shared.NewStdLogger()
	printer, err := shared.NewPrinter("  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create printer: %v\n", err)
		os.Exit(1)
	}
	defer printer.Close()

	if err := run(logger, printer, *serverURL, *file, *roleA, *roleB, *resume, !*noPlayback); err != nil {
		logger.Error("session failed", err)
		os.Exit(1)
	}
}

func run(logger shared.LoggerAdapter, printer *shared.Printer,
	serverURL, file, roleA, roleB, resume string, playback bool) error {

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sequencer *audio.Sequencer
	if playback {
		renderer, err := audio.NewDeviceRenderer(playbackSampleRate)
		if err != nil {
			return fmt.Errorf("on opening audio device: %w", err)
		}
		sequencer, err = audio.NewSequencer(logger, renderer, nil)
		if err != nil {
			return err
		}
		defer sequencer.Close()
	}

	stopped := make(chan struct{})
	handlers := client.Handlers{
		OnSessionReady: func(d protocol.SessionReadyData) {
			_ = printer.Writeln("🎙  Session ready: "+d.ConversationId, 0)
		},
		OnTranscript: func(d protocol.TranscriptData) {
			if d.Finished {
				_ = printer.Writeln(fmt.Sprintf("[%s] %s", d.Role, d.Text), 0)
			}
		},
		OnTranslation: func(d protocol.TranslationData) {
			if d.Finished {
				_ = printer.Writeln("→ "+d.Text, 1)
			}
		},
		OnAudio: func(pcm []byte) {
			if sequencer != nil {
				sequencer.Enqueue(pcm)
			}
		},
		OnEvent: func(d protocol.EventData) {
			if d.Event == protocol.EventTimeout {
				_ = printer.Writeln("⏳ Session about to time out", 0)
			}
		},
		OnStopped: func(d protocol.ConversationStoppedData) {
			if d.Summary != nil {
				_ = printer.Writeln("\n📋 Summary: "+*d.Summary, 0)
			}
			close(stopped)
		},
		OnError: func(d protocol.ErrorData) {
			_ = printer.Writeln("⚠️  "+d.Message, 0)
		},
	}

	c, err := client.Dial(ctx, logger, client.Options{
		URL:                  serverURL,
		ResumeConversationId: resume,
		Languages: classify.LanguageConfig{
			RoleALanguage: roleA,
			RoleBLanguage: roleB,
		},
		Handlers: handlers,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	select {
	case <-c.Ready():
	case <-ctx.Done():
		return ctx.Err()
	case <-c.Done():
		return fmt.Errorf("connection closed before ready: %w", c.Err())
	}

	if file != "" {
		pcm, err := loadPCM(file)
		if err != nil {
			return err
		}
		_ = printer.Writeln(fmt.Sprintf("📤 Streaming %s (%.1fs)", file,
			float64(len(pcm))/float64(captureSampleRate*2)), 0)
		if err := streamFrames(ctx, c, pcm); err != nil {
			return err
		}
		c.Flush()
	}

	_ = printer.Writeln("Listening; Ctrl-C to stop.", 0)
	select {
	case <-ctx.Done():
	case <-stopped:
	case <-c.Done():
	}

	if sequencer != nil {
		sequencer.WaitIdle()
	}
	return nil
}

// streamFrames paces the file like a live microphone: one frame per tick.
func streamFrames(ctx context.Context, c *client.Client, pcm []byte) error {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for off := 0; off < len(pcm); off += frameBytes {
		end := min(off+frameBytes, len(pcm))
		c.PushAudio(pcm[off:end])
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			return errors.New("connection closed while streaming")
		}
	}
	return nil
}

// loadPCM reads a file as 16 kHz mono PCM16. A RIFF header is skipped by
// locating the data chunk; anything else is treated as raw samples.
func loadPCM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 || !bytes.Equal(data[:4], []byte("RIFF")) {
		return data, nil
	}
	// walk RIFF chunks until "data"
	off := 12
	for off+8 <= len(data) {
		id := data[off : off+4]
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if bytes.Equal(id, []byte("data")) {
			if off+size > len(data) {
				size = len(data) - off
			}
			return data[off : off+size], nil
		}
		off += size + size%2
	}
	return nil, fmt.Errorf("no data chunk in %s", path)
}
