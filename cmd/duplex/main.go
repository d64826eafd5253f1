// Command duplex places a live voice call to a Gemini persona. It
// streams the microphone to the model, plays the synthesized reply
// with barge-in, and takes line commands for mute and hangup.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxkit/duplex/pkg/audio"
	"github.com/voxkit/duplex/pkg/call"
	"github.com/voxkit/duplex/pkg/persona"
	"github.com/voxkit/duplex/pkg/realtime"
	"github.com/voxkit/duplex/pkg/realtime/gemini"
)

const (
	backendWS  = "ws"
	backendSDK = "sdk"

	meterWidth = 20
)

type options struct {
	model        string
	personaID    string
	personaFile  string
	backend      string
	listPersonas bool
	startMuted   bool
	debug        bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = godotenv.Load()

	var opt options
	flag.StringVar(&opt.model, "model", gemini.DefaultModel, "Live model ID")
	flag.StringVar(&opt.personaID, "persona", "", "Persona ID (skips the selection prompt)")
	flag.StringVar(&opt.personaFile, "personas", "", "YAML file overlaying the builtin personas")
	flag.StringVar(&opt.backend, "backend", backendWS, "Session backend: ws or sdk")
	flag.BoolVar(&opt.listPersonas, "list-personas", false, "List available personas and exit")
	flag.BoolVar(&opt.startMuted, "mute", false, "Start the call muted")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	logger := newLogger(opt.debug)
	slog.SetDefault(logger)

	reg := persona.Builtin()
	if path := strings.TrimSpace(opt.personaFile); path != "" {
		var err error
		if reg, err = persona.Load(path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}
	if opt.listPersonas {
		printPersonas(reg)
		return 0
	}

	opt.backend = strings.ToLower(strings.TrimSpace(opt.backend))
	if opt.backend != backendWS && opt.backend != backendSDK {
		fmt.Fprintln(os.Stderr, "--backend must be ws or sdk")
		return 2
	}

	apiKey := apiKeyFromEnv()
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "GEMINI_API_KEY is required (environment or .env; GOOGLE_API_KEY also works)")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdin := bufio.NewScanner(os.Stdin)
	p, ok := choosePersona(stdin, reg, opt.personaID)
	if !ok {
		return 2
	}

	sink, err := newSpeakerSink(audio.PlaybackFormat())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sink.Close()

	var dialer realtime.Dialer
	if opt.backend == backendSDK {
		dialer = gemini.NewSDKDialer(apiKey)
	} else {
		dialer = gemini.NewDialer(apiKey, gemini.WithLogger(logger))
	}

	c, err := call.New(call.Config{
		Session: realtime.SessionConfig{
			Model:             strings.TrimSpace(opt.model),
			VoiceName:         p.VoiceName,
			SystemInstruction: p.Instruction(),
		},
		Dialer:     dialer,
		Source:     newMicSource(audio.CaptureFormat()),
		Sink:       sink,
		StartMuted: opt.startMuted,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Printf("Calling %s (voice %s, model %s)...\n", p.Name, p.VoiceName, strings.TrimSpace(opt.model))
	fmt.Println(`During the call: "m" toggles mute, "q" hangs up.`)

	if err := c.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, userMessage(err))
		return 1
	}

	go readCommands(stdin, c)

	renderEvents(ctx, c, opt.debug)

	if c.State() == call.StateError {
		return 1
	}
	return 0
}

func newLogger(debug bool) *slog.Logger {
	lvl := slog.LevelWarn
	if debug {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// apiKeyFromEnv prefers GEMINI_API_KEY and falls back to
// GOOGLE_API_KEY, which Google's own tooling sets.
func apiKeyFromEnv() string {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
}

func printPersonas(reg *persona.Registry) {
	for _, p := range reg.List() {
		fmt.Printf("%-10s %-10s voice %-8s %s\n", p.ID, p.Name, p.VoiceName, p.Tagline)
	}
}

func choosePersona(stdin *bufio.Scanner, reg *persona.Registry, id string) (persona.Persona, bool) {
	if id = strings.TrimSpace(id); id != "" {
		p, ok := reg.Get(id)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown persona %q; try -list-personas\n", id)
		}
		return p, ok
	}

	list := reg.List()
	fmt.Println("Who do you want to talk to?")
	for i, p := range list {
		fmt.Printf("  %d. %-8s %s (voice %s)\n", i+1, p.Name, p.Tagline, p.VoiceName)
	}
	fmt.Print("> ")

	if !stdin.Scan() {
		fmt.Fprintln(os.Stderr, "no persona selected")
		return persona.Persona{}, false
	}
	input := strings.TrimSpace(stdin.Text())
	if input == "" {
		return list[0], true
	}
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(list) {
		return list[n-1], true
	}
	for _, p := range list {
		if strings.EqualFold(input, p.ID) || strings.EqualFold(input, p.Name) {
			return p, true
		}
	}
	fmt.Fprintf(os.Stderr, "no persona matches %q\n", input)
	return persona.Persona{}, false
}

func readCommands(stdin *bufio.Scanner, c *call.Call) {
	for stdin.Scan() {
		switch strings.ToLower(strings.TrimSpace(stdin.Text())) {
		case "":
		case "m":
			if c.ToggleMute() {
				fmt.Println("[mic] muted")
			} else {
				fmt.Println("[mic] live")
			}
		case "q":
			c.Hangup()
			return
		default:
			fmt.Println(`commands: "m" toggles mute, "q" hangs up`)
		}
	}
}

func renderEvents(ctx context.Context, c *call.Call, debug bool) {
	r := &renderer{debug: debug}
	for {
		select {
		case <-ctx.Done():
			r.clearMeter()
			fmt.Println("Hanging up...")
			c.Hangup()
			<-c.Done()
			r.drain(c)
			return
		case <-c.Done():
			r.drain(c)
			r.clearMeter()
			return
		case ev := <-c.Events():
			r.render(c, ev)
		}
	}
}

// renderer prints call events as lines, keeping a single transient
// mic-level meter line that is cleared before any full line.
type renderer struct {
	debug      bool
	meterShown bool
}

func (r *renderer) drain(c *call.Call) {
	for {
		select {
		case ev := <-c.Events():
			r.render(c, ev)
		default:
			return
		}
	}
}

func (r *renderer) render(c *call.Call, ev call.Event) {
	switch ev := ev.(type) {
	case call.StateEvent:
		r.line("[call] %s", ev.To)
	case call.LevelEvent:
		r.meter(ev.Peak, c.Muted())
	case call.SpeakingEvent:
		if ev.Active {
			r.line("[assistant] speaking")
		} else if r.debug {
			r.line("[debug] assistant finished")
		}
	case call.AudioScheduledEvent:
		if r.debug {
			r.line("[debug] scheduled %s of audio", ev.Duration.Round(time.Millisecond))
		}
	case call.PlaybackFlushedEvent:
		r.line("[assistant] interrupted")
	case call.FrameDroppedEvent:
		if r.debug || ev.Dropped == 1 {
			fmt.Fprintf(os.Stderr, "[warning] send queue full; %d frames dropped\n", ev.Dropped)
		}
	case call.DecodeErrorEvent:
		if r.debug {
			r.line("[debug] dropped audio chunk: %v", ev.Err)
		}
	case call.ErrorEvent:
		r.line("%s", userMessage(ev.Err))
	}
}

func (r *renderer) line(format string, args ...any) {
	r.clearMeter()
	fmt.Printf(format+"\n", args...)
}

func (r *renderer) meter(peak float64, muted bool) {
	filled := int(peak*meterWidth + 0.5)
	if filled > meterWidth {
		filled = meterWidth
	}
	tag := ""
	if muted {
		tag = " muted"
	}
	fmt.Printf("\r[mic %-*s]%s", meterWidth, strings.Repeat("#", filled), tag)
	r.meterShown = true
}

func (r *renderer) clearMeter() {
	if r.meterShown {
		fmt.Print("\r", strings.Repeat(" ", meterWidth+16), "\r")
		r.meterShown = false
	}
}

// userMessage maps a call error to what the user should see. Remote
// failures get a generic message; detail stays in the debug log.
func userMessage(err error) string {
	var callErr *call.Error
	if !errors.As(err, &callErr) {
		return err.Error()
	}
	switch callErr.Type {
	case call.ErrPermission:
		return "Could not open the microphone. Check the input device and permissions."
	case call.ErrCredential:
		return "No usable API credential. Set GEMINI_API_KEY and try again."
	case call.ErrRemoteSession:
		return "The call ended unexpectedly. Please try again."
	default:
		return callErr.Error()
	}
}
