package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hmcalister/wavetrim/internal/audioapi"
	"github.com/hmcalister/wavetrim/internal/config"
	"github.com/hmcalister/wavetrim/internal/library"
	"github.com/hmcalister/wavetrim/internal/session"
	"github.com/hmcalister/wavetrim/internal/tui"
	"github.com/hmcalister/wavetrim/pkg/audiobuffer"
	"github.com/hmcalister/wavetrim/pkg/audiodevice/device"
	"github.com/hmcalister/wavetrim/pkg/audiofile"
	"github.com/hmcalister/wavetrim/pkg/processing"
)

var (
	errMissingInput     = errors.New("-in is required")
	errLoopbackMonitor  = errors.New("cannot monitor a loopback device, it would feed back into itself")
	errBadSettingFormat = errors.New("settings must be given as key=value")
)

// Cancelled on Ctrl-C or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

// A session for commands that only work on files and never open a device.
func (a *app) fileSession(in string) (*session.Session, error) {
	if in == "" {
		return nil, errMissingInput
	}
	sess := session.New(nil, a.store)
	sess.OnClip(printClipping)
	if _, err := sess.Load(in); err != nil {
		return nil, err
	}
	return sess, nil
}

func printClipping(w processing.ClippingWarning) {
	fmt.Fprintf(os.Stderr, "warning: %d samples clipped (peak %.1f dBFS before clipping)\n",
		w.ClippedSamples, w.PeakDb())
}

// --------------------------------------------------------------------------------

func runDevices(a *app, args []string) error {
	fs := newFlagSet("devices")
	verbose := fs.Bool("v", false, "Show the full properties of each device.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	api, err := a.audioAPI()
	if err != nil {
		return err
	}
	devices, err := api.CaptureDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(os.Stderr, "no capture devices found")
		return nil
	}
	for _, d := range devices {
		if *verbose {
			fmt.Println(d.String())
			continue
		}
		fmt.Println(d.Label())
	}
	return nil
}

// --------------------------------------------------------------------------------

func runRecord(a *app, args []string) error {
	fs := newFlagSet("record")
	deviceName := fs.String("device", "", "Capture device name or part of it. Defaults to the saved device, then the system default.")
	duration := fs.Duration("duration", 0, "Stop after this long. 0 records until interrupted. Headless only.")
	headless := fs.Bool("headless", false, "Record without the interactive screen.")
	monitor := fs.Bool("monitor", false, "Play the input through the default output while recording. Headless only.")
	monitorGain := fs.Float64("monitor-gain", 0, "Gain in dB for the monitor output.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	api, err := a.audioAPI()
	if err != nil {
		return err
	}
	ioDevice, err := resolveDevice(api, *deviceName, a.store.Settings().Device)
	if err != nil {
		return err
	}

	sess := session.New(api, a.store)
	defer sess.Close()

	if !*headless {
		return runRecordScreen(a, api, sess, ioDevice)
	}

	sess.OnClip(printClipping)
	if err := startHeadless(api, sess, ioDevice, *monitor, *monitorGain); err != nil {
		return err
	}

	ctx, stop := interruptContext()
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}
	waitWithProgress(ctx, sess)

	if _, err := sess.StopRecording(); err != nil {
		return err
	}
	path, err := sess.SaveRecording()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// An explicit name must match. A saved name that no longer matches falls back to the default.
func resolveDevice(api audioapi.AudioIODeviceAPI, flagName, savedName string) (audioapi.AudioIODevice, error) {
	if flagName != "" {
		return audioapi.FindCaptureDevice(api, flagName)
	}
	ioDevice, err := audioapi.FindCaptureDevice(api, savedName)
	if err != nil && savedName != "" {
		slog.Warn("saved device not found, using default", "device", savedName, "err", err)
		return api.DefaultCaptureDevice()
	}
	return ioDevice, err
}

func runRecordScreen(a *app, api audioapi.AudioIODeviceAPI, sess *session.Session, ioDevice audioapi.AudioIODevice) error {
	devices, err := api.CaptureDevices()
	if err != nil {
		return err
	}
	if err := a.store.Update(func(s *config.RecordingSettings) { s.Device = ioDevice.Name }); err != nil {
		slog.Warn("could not remember device", "device", ioDevice.Name, "err", err)
	}

	if err := quietLogger(a); err != nil {
		return err
	}

	model := tui.New(sess, a.store, devices)
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// Start recording, and monitoring if asked. A monitor that cannot start stops the recording.
func startHeadless(api audioapi.AudioIODeviceAPI, sess *session.Session, ioDevice audioapi.AudioIODevice, monitor bool, monitorGain float64) error {
	if err := sess.StartRecording(ioDevice); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "recording from %s, Ctrl-C to stop\n", ioDevice.Label())

	if !monitor {
		return nil
	}
	if err := startMonitor(api, sess, ioDevice, monitorGain); err != nil {
		if _, stopErr := sess.StopRecording(); stopErr != nil {
			slog.Warn("error while stopping recording", "err", stopErr)
		}
		return err
	}
	return nil
}

// Log lines on stderr would tear a full screen UI.
func quietLogger(a *app) error {
	if a.store.LogFile() != "" {
		return nil
	}
	_, err := config.ConfigureDefaultLogger("none", "", slog.HandlerOptions{})
	return err
}

// Feed the capture to the speakers through a gain stage.
func startMonitor(api audioapi.AudioIODeviceAPI, sess *session.Session, ioDevice audioapi.AudioIODevice, gainDb float64) error {
	if ioDevice.Kind == audioapi.KindLoopback {
		return errLoopbackMonitor
	}
	props := sess.Waveform().GetDeviceProperties()
	sink, err := api.InitPlaybackDevice(props)
	if err != nil {
		return &session.DeviceError{Device: "monitor", Err: err}
	}
	gain := device.NewAudioAugmentationDevice(props)
	gain.SetGainDb(gainDb)
	if err := sess.AddMonitor(gain); err != nil {
		gain.Close()
		return err
	}
	sink.SetStream(gain.GetStream())
	return nil
}

func waitWithProgress(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return
		case <-ticker.C:
			waveform := sess.Waveform()
			if waveform == nil {
				return
			}
			window := waveform.GetDeviceProperties().DurationToFrames(250 * time.Millisecond)
			level := processing.LinearToDb(float64(waveform.Level(window)))
			fmt.Fprintf(os.Stderr, "\r%8s  %6.1f dBFS ", sess.RecordingElapsed().Truncate(100*time.Millisecond), level)
		}
	}
}

// --------------------------------------------------------------------------------

// Flags shared by the commands that read a region of a file.
type regionFlags struct {
	in    *string
	start *time.Duration
	end   *time.Duration
}

func addRegionFlags(fs *flag.FlagSet) regionFlags {
	return regionFlags{
		in:    fs.String("in", "", "Input audio file (.wav, .flac, .ogg, .mp3)."),
		start: fs.Duration("start", 0, "Start of the region, e.g. 1.5s."),
		end:   fs.Duration("end", 0, "End of the region. 0 means the end of the file."),
	}
}

func (r regionFlags) load(a *app) (*session.Session, error) {
	sess, err := a.fileSession(*r.in)
	if err != nil {
		return nil, err
	}
	if *r.start != 0 || *r.end != 0 {
		if _, err := sess.SelectTimes(*r.start, *r.end); err != nil {
			sess.Close()
			return nil, err
		}
	}
	return sess, nil
}

func runTrim(a *app, args []string) error {
	fs := newFlagSet("trim")
	region := addRegionFlags(fs)
	normalize := fs.Bool("normalize", false, "Normalize the region to -1 dBFS.")
	gainDb := fs.Float64("gain", 0, "Gain in dB. Ignored with -normalize.")
	bitDepth := fs.Int("bitdepth", 0, "Output bit depth (8, 16, 24, 32). 0 uses the settings.")
	out := fs.String("out", "", "Output path. Defaults to <input>_trimmed.wav.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := region.load(a)
	if err != nil {
		return err
	}
	defer sess.Close()
	return saveCopy(sess, session.SaveOptions{
		Path:      *out,
		Normalize: *normalize,
		GainDb:    *gainDb,
		BitDepth:  *bitDepth,
	})
}

func runNormalize(a *app, args []string) error {
	fs := newFlagSet("normalize")
	in := fs.String("in", "", "Input audio file.")
	out := fs.String("out", "", "Output path. Defaults to <input>_normalized.wav.")
	bitDepth := fs.Int("bitdepth", 0, "Output bit depth (8, 16, 24, 32). 0 uses the settings.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := a.fileSession(*in)
	if err != nil {
		return err
	}
	defer sess.Close()
	return saveCopy(sess, session.SaveOptions{
		Path:      *out,
		Tag:       "normalized",
		Normalize: true,
		BitDepth:  *bitDepth,
	})
}

func runGain(a *app, args []string) error {
	fs := newFlagSet("gain")
	in := fs.String("in", "", "Input audio file.")
	gainDb := fs.Float64("db", 0, "Gain in dB, negative to attenuate.")
	out := fs.String("out", "", "Output path. Defaults to <input>_gain.wav.")
	bitDepth := fs.Int("bitdepth", 0, "Output bit depth (8, 16, 24, 32). 0 uses the settings.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := a.fileSession(*in)
	if err != nil {
		return err
	}
	defer sess.Close()
	return saveCopy(sess, session.SaveOptions{
		Path:     *out,
		Tag:      "gain",
		GainDb:   *gainDb,
		BitDepth: *bitDepth,
	})
}

func saveCopy(sess *session.Session, opts session.SaveOptions) error {
	if opts.BitDepth != 0 && !audiofile.ValidBitDepth(opts.BitDepth) {
		return fmt.Errorf("unsupported bit depth %d", opts.BitDepth)
	}
	path, err := sess.SaveTrim(opts)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// --------------------------------------------------------------------------------

func runPlay(a *app, args []string) error {
	fs := newFlagSet("play")
	region := addRegionFlags(fs)
	loop := fs.Bool("loop", false, "Repeat the region until interrupted.")
	volume := fs.Float64("volume", 0, "Playback gain in dB. The file is not changed.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *region.in == "" {
		return errMissingInput
	}

	api, err := a.audioAPI()
	if err != nil {
		return err
	}
	sess := session.New(api, a.store)
	defer sess.Close()
	if _, err := sess.Load(*region.in); err != nil {
		return err
	}
	if *region.start != 0 || *region.end != 0 {
		if _, err := sess.SelectTimes(*region.start, *region.end); err != nil {
			return err
		}
	}
	sess.SetPlaybackGain(*volume)

	ctx, stop := interruptContext()
	defer stop()
	done, err := sess.Play(ctx, *loop)
	if err != nil {
		return err
	}
	<-done
	return nil
}

func runEdit(a *app, args []string) error {
	fs := newFlagSet("edit")
	in := fs.String("in", "", "File to trim.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errMissingInput
	}

	api, err := a.audioAPI()
	if err != nil {
		return err
	}
	sess := session.New(api, a.store)
	defer sess.Close()
	if _, err := sess.Load(*in); err != nil {
		return err
	}

	model, err := tui.NewTrim(sess, a.store.Settings().Normalize)
	if err != nil {
		return err
	}
	if err := quietLogger(a); err != nil {
		return err
	}
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// --------------------------------------------------------------------------------

func runList(a *app, args []string) error {
	fs := newFlagSet("list")
	limit := fs.Int("limit", library.DefaultLimit, "Show at most this many recordings.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir := a.store.Settings().SaveDir
	entries, err := library.Recent(dir, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "no recordings in %s\n", dir)
		return nil
	}
	for _, e := range entries {
		fmt.Println(e.String())
	}
	return nil
}

func runSettings(a *app, args []string) error {
	fs := newFlagSet("settings")
	if err := fs.Parse(args); err != nil {
		return err
	}

	for _, arg := range fs.Args() {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("%w: %q", errBadSettingFormat, arg)
		}
		if err := a.store.Set(key, value); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}

	fmt.Printf("# %s\n", a.store.ConfigFilePath())
	for _, entry := range a.store.Entries() {
		fmt.Println(entry)
	}
	return nil
}

// --------------------------------------------------------------------------------

const overviewWidth = 64

func runInfo(a *app, args []string) error {
	fs := newFlagSet("info")
	in := fs.String("in", "", "Input audio file.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errMissingInput
	}

	b, err := audiofile.Load(*in)
	if err != nil {
		return err
	}
	fmt.Printf("File:        %s\n", filepath.Base(*in))
	fmt.Printf("SampleRate:  %d\n", b.Properties.SampleRate)
	fmt.Printf("Channels:    %d\n", b.Properties.NumChannels)
	fmt.Printf("Frames:      %d\n", b.NumFrames())
	fmt.Printf("Duration:    %s\n", b.Duration().Round(time.Millisecond))
	fmt.Printf("Peak:        %.1f dBFS\n", processing.LinearToDb(b.Peak()))
	fmt.Printf("Waveform:    %s\n", renderOverview(audiobuffer.Overview(b, overviewWidth)))
	return nil
}

var overviewBlocks = []rune(" ▁▂▃▄▅▆▇█")

func renderOverview(bins []audiobuffer.OverviewBin) string {
	var sb strings.Builder
	for _, bin := range bins {
		amplitude := (bin.Max - bin.Min) / 2
		i := int(amplitude * float32(len(overviewBlocks)-1))
		sb.WriteRune(overviewBlocks[max(0, min(len(overviewBlocks)-1, i))])
	}
	return sb.String()
}
