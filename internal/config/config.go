package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/hmcalister/wavetrim/internal/filename"
	"github.com/hmcalister/wavetrim/pkg/audiofile"
	"github.com/spf13/viper"
)

// Config keys. These are also the YAML keys of the settings file.
const (
	KeyLogLevel   = "loglevel"
	KeyLogFile    = "logfile"
	KeySaveDir    = "savedir"
	KeyPrefix     = "prefix"
	KeySuffix     = "suffix"
	KeyDateFormat = "dateformat"
	KeyNormalize  = "normalize"
	KeyGainDb     = "gaindb"
	KeyBitDepth   = "bitdepth"
	KeyDevice     = "device"
)

const (
	appName            = "wavetrim"
	configFileName     = "settings.yaml"
	maxGainMagnitudeDb = 60.0
)

var (
	errUnknownKey = errors.New("unknown settings key")
)

// The user-editable recording settings.
type RecordingSettings struct {
	// Directory recordings are saved to.
	SaveDir    string
	Prefix     string
	DateFormat string
	Suffix     string

	// Normalize recordings to -1 dBFS on save. When false, GainDb is applied instead.
	Normalize bool
	GainDb    float64
	BitDepth  int

	// Name of the last used capture device. Empty means the system default.
	Device string
}

// The filename template described by these settings.
func (s RecordingSettings) Template() filename.Template {
	return filename.Template{
		Dir:        s.SaveDir,
		Prefix:     s.Prefix,
		DateFormat: s.DateFormat,
		Suffix:     s.Suffix,
	}
}

func (s RecordingSettings) Validate() error {
	var errs []error
	if s.DateFormat != "" {
		if err := filename.ValidateDateFormat(s.DateFormat); err != nil {
			errs = append(errs, err)
		}
	}
	if !audiofile.ValidBitDepth(s.BitDepth) {
		errs = append(errs, fmt.Errorf("%w: %d", audiofile.ErrUnsupportedBitDepth, s.BitDepth))
	}
	if s.GainDb < -maxGainMagnitudeDb || s.GainDb > maxGainMagnitudeDb {
		errs = append(errs, fmt.Errorf("gain %v dB outside [-%v, %v]", s.GainDb, maxGainMagnitudeDb, maxGainMagnitudeDb))
	}
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------------

// The default location of the settings file, under the user's config directory.
// Falls back to the working directory if no config directory is known.
func DefaultConfigFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return configFileName
	}
	return filepath.Join(dir, appName, configFileName)
}

func setViperDefaults(v *viper.Viper) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeySaveDir, cwd)
	v.SetDefault(KeyPrefix, filename.DefaultName)
	v.SetDefault(KeySuffix, "")
	v.SetDefault(KeyDateFormat, filename.DefaultDateFormat)
	v.SetDefault(KeyNormalize, true)
	v.SetDefault(KeyGainDb, 0.0)
	v.SetDefault(KeyBitDepth, audiofile.DefaultBitDepth)
	v.SetDefault(KeyDevice, "")
}

// A Store holds the process-wide settings, loaded once at startup and written back
// to the settings file on every change.
//
// Settings are read from many places (the filename generator, the recording path,
// the TUI) but only written through Update and Set; a RWMutex guards both.
type Store struct {
	mu             sync.RWMutex
	v              *viper.Viper
	configFilePath string
}

// Load the settings file at configFilePath. A missing file is not an error:
// defaults are used and the file is created on the first change.
func LoadConfig(configFilePath string) (*Store, error) {
	v := viper.New()
	setViperDefaults(v)
	v.SetConfigFile(configFilePath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			return nil, err
		}
	}

	return &Store{
		v:              v,
		configFilePath: configFilePath,
	}, nil
}

func (s *Store) ConfigFilePath() string {
	return s.configFilePath
}

func (s *Store) LogLevel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(KeyLogLevel)
}

func (s *Store) LogFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.GetString(KeyLogFile)
}

func (s *Store) Settings() RecordingSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settingsLocked()
}

func (s *Store) settingsLocked() RecordingSettings {
	return RecordingSettings{
		SaveDir:    s.v.GetString(KeySaveDir),
		Prefix:     s.v.GetString(KeyPrefix),
		DateFormat: s.v.GetString(KeyDateFormat),
		Suffix:     s.v.GetString(KeySuffix),
		Normalize:  s.v.GetBool(KeyNormalize),
		GainDb:     s.v.GetFloat64(KeyGainDb),
		BitDepth:   s.v.GetInt(KeyBitDepth),
		Device:     s.v.GetString(KeyDevice),
	}
}

// Apply mutate to a copy of the current settings, validate the result, and persist it.
// Nothing changes if validation or the write fails.
func (s *Store) Update(mutate func(*RecordingSettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.settingsLocked()
	mutate(&settings)
	if err := settings.Validate(); err != nil {
		return err
	}

	previous := s.settingsLocked()
	s.apply(settings)
	if err := s.persist(); err != nil {
		s.apply(previous)
		return err
	}
	return nil
}

func (s *Store) apply(settings RecordingSettings) {
	s.v.Set(KeySaveDir, settings.SaveDir)
	s.v.Set(KeyPrefix, settings.Prefix)
	s.v.Set(KeyDateFormat, settings.DateFormat)
	s.v.Set(KeySuffix, settings.Suffix)
	s.v.Set(KeyNormalize, settings.Normalize)
	s.v.Set(KeyGainDb, settings.GainDb)
	s.v.Set(KeyBitDepth, settings.BitDepth)
	s.v.Set(KeyDevice, settings.Device)
}

// Set a single setting from its string form, as given on the command line.
// A value that does not parse, or an unknown key, changes nothing.
func (s *Store) Set(key, value string) error {
	apply, err := parseSetting(strings.ToLower(strings.TrimSpace(key)), value)
	if err != nil {
		return err
	}
	return s.Update(apply)
}

func parseSetting(key, value string) (func(*RecordingSettings), error) {
	switch key {
	case KeySaveDir:
		return func(settings *RecordingSettings) { settings.SaveDir = value }, nil
	case KeyPrefix:
		return func(settings *RecordingSettings) { settings.Prefix = value }, nil
	case KeySuffix:
		return func(settings *RecordingSettings) { settings.Suffix = value }, nil
	case KeyDateFormat:
		return func(settings *RecordingSettings) { settings.DateFormat = value }, nil
	case KeyDevice:
		return func(settings *RecordingSettings) { settings.Device = value }, nil
	case KeyNormalize:
		normalize, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return func(settings *RecordingSettings) { settings.Normalize = normalize }, nil
	case KeyGainDb:
		gainDb, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return func(settings *RecordingSettings) { settings.GainDb = gainDb }, nil
	case KeyBitDepth:
		bitDepth, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return func(settings *RecordingSettings) { settings.BitDepth = bitDepth }, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownKey, key)
}

func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.configFilePath), 0o755); err != nil {
		return err
	}
	if err := s.v.WriteConfigAs(s.configFilePath); err != nil {
		slog.Error("could not write settings", "configFilePath", s.configFilePath, "err", err)
		return err
	}
	slog.Debug("settings saved", "configFilePath", s.configFilePath)
	return nil
}

// The directory to save recordings in, created if it does not exist.
func (s *Store) EnsureSaveDir() string {
	return s.Settings().EnsureSaveDir()
}

// Create SaveDir if needed and return it, or the working directory if it
// cannot be created.
func (s RecordingSettings) EnsureSaveDir() string {
	if err := os.MkdirAll(s.SaveDir, 0o755); err != nil {
		slog.Warn("could not create save directory, using working directory",
			"saveDir", s.SaveDir,
			"err", err,
		)
		if cwd, err := os.Getwd(); err == nil {
			return cwd
		}
		return "."
	}
	return s.SaveDir
}

// Settings in key=value form, for display.
func (s *Store) Entries() []string {
	settings := s.Settings()
	return []string{
		fmt.Sprintf("%s=%s", KeySaveDir, settings.SaveDir),
		fmt.Sprintf("%s=%s", KeyPrefix, settings.Prefix),
		fmt.Sprintf("%s=%s", KeyDateFormat, settings.DateFormat),
		fmt.Sprintf("%s=%s", KeySuffix, settings.Suffix),
		fmt.Sprintf("%s=%t", KeyNormalize, settings.Normalize),
		fmt.Sprintf("%s=%g", KeyGainDb, settings.GainDb),
		fmt.Sprintf("%s=%d", KeyBitDepth, settings.BitDepth),
		fmt.Sprintf("%s=%s", KeyDevice, settings.Device),
	}
}
