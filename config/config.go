// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	internal_audio "github.com/rapidaai/recorder/internal/audio"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path" validate:"required"`

	// Recording storage
	RecordingsPath string `mapstructure:"recordings_path" validate:"required"`
	StateDBPath    string `mapstructure:"state_db_path" validate:"required"`

	// Audio timeline parameters
	SampleRate      uint32 `mapstructure:"sample_rate" validate:"required"`
	Channels        uint16 `mapstructure:"channels" validate:"required"`
	FrameDurationMs int    `mapstructure:"frame_duration_ms" validate:"required"`
	MinSilenceGapMs int    `mapstructure:"min_silence_gap_ms"`

	// Output encoding
	Format  string `mapstructure:"format" validate:"required,oneof=mp3 wav"`
	Bitrate int    `mapstructure:"bitrate" validate:"required"`

	// Shutdown and control timing
	TrackStopGraceSec  int `mapstructure:"track_stop_grace_sec" validate:"required"`
	FlushGraceSec      int `mapstructure:"flush_grace_sec" validate:"required"`
	StopPollIntervalMs int `mapstructure:"stop_poll_interval_ms" validate:"required"`

	// Housekeeping
	RetentionDays           int `mapstructure:"retention_days"`
	MaxConcurrentRecordings int `mapstructure:"max_concurrent_recordings" validate:"required"`

	// Optional Google Drive upload of finished sessions
	EnableDriveUpload    bool   `mapstructure:"enable_drive_upload"`
	DriveCredentialsPath string `mapstructure:"drive_credentials_path"`
	DriveFolderID        string `mapstructure:"drive_folder_id"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env varaibles.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// setting all default values
	v.SetDefault("SERVICE_NAME", "voice-track-recorder")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "./logs")

	v.SetDefault("RECORDINGS_PATH", "./recordings")
	v.SetDefault("STATE_DB_PATH", "./recordings/recorder-state.db")

	// Voice transports deliver 48kHz stereo 16-bit PCM in 20ms frames.
	v.SetDefault("SAMPLE_RATE", 48000)
	v.SetDefault("CHANNELS", 2)
	v.SetDefault("FRAME_DURATION_MS", 20)
	v.SetDefault("MIN_SILENCE_GAP_MS", 100)

	v.SetDefault("FORMAT", "mp3")
	v.SetDefault("BITRATE", 128)

	v.SetDefault("TRACK_STOP_GRACE_SEC", 5)
	v.SetDefault("FLUSH_GRACE_SEC", 10)
	v.SetDefault("STOP_POLL_INTERVAL_MS", 2000)

	v.SetDefault("RETENTION_DAYS", 7)
	v.SetDefault("MAX_CONCURRENT_RECORDINGS", 1)

	v.SetDefault("ENABLE_DRIVE_UPLOAD", false)
	v.SetDefault("DRIVE_CREDENTIALS_PATH", "")
	v.SetDefault("DRIVE_FOLDER_ID", "")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}

// AudioConfig translates the flat config keys into the audio timeline config.
func (c *AppConfig) AudioConfig() internal_audio.Config {
	return internal_audio.Config{
		SampleRate:    c.SampleRate,
		Channels:      c.Channels,
		FrameDuration: time.Duration(c.FrameDurationMs) * time.Millisecond,
	}
}

func (c *AppConfig) MinSilenceGap() time.Duration {
	return time.Duration(c.MinSilenceGapMs) * time.Millisecond
}

func (c *AppConfig) TrackStopGrace() time.Duration {
	return time.Duration(c.TrackStopGraceSec) * time.Second
}

func (c *AppConfig) FlushGrace() time.Duration {
	return time.Duration(c.FlushGraceSec) * time.Second
}

func (c *AppConfig) StopPollInterval() time.Duration {
	return time.Duration(c.StopPollIntervalMs) * time.Millisecond
}

func (c *AppConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
