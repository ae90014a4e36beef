package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/zsiec/camcorder/direction"
)

// Load reads optional .env files and overlays CAMREC_* environment
// variables on Default. Missing .env files are not an error; with no paths,
// ".env" is tried.
func Load(paths ...string) (RecordConfig, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return RecordConfig{}, err
		}
	}

	c := Default()
	c.Width = GetEnvInt("CAMREC_WIDTH", c.Width)
	c.Height = GetEnvInt("CAMREC_HEIGHT", c.Height)
	c.FPS = GetEnvInt("CAMREC_FPS", c.FPS)
	c.GOP = GetEnvInt("CAMREC_GOP", c.GOP)
	c.Bitrate = GetEnvInt("CAMREC_BITRATE", c.Bitrate)
	c.DefaultCamera = GetEnvInt("CAMREC_CAMERA", c.DefaultCamera)
	c.FrontDirection = direction.Flag(GetEnvInt("CAMREC_FRONT_DIRECTION", int(c.FrontDirection)))
	c.BackDirection = direction.Flag(GetEnvInt("CAMREC_BACK_DIRECTION", int(c.BackDirection)))
	c.SavePath = GetEnv("CAMREC_SAVE_PATH", c.SavePath)
	c.SaveEnabled = GetEnvBool("CAMREC_SAVE", c.SaveEnabled)
	c.Square = GetEnvBool("CAMREC_SQUARE", c.Square)
	c.PrintDetail = GetEnvBool("CAMREC_PRINT_DETAIL", c.PrintDetail)
	c.VideoQueueDepth = GetEnvInt("CAMREC_VIDEO_QUEUE", c.VideoQueueDepth)
	c.AudioSampleRate = GetEnvInt("CAMREC_AUDIO_RATE", c.AudioSampleRate)
	c.AudioBitrate = GetEnvInt("CAMREC_AUDIO_BITRATE", c.AudioBitrate)
	return c, nil
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if the variable is
// unset or not a valid integer. Hexadecimal values with a 0x prefix are
// accepted, which suits direction flags.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64); err == nil {
			return int(n)
		}
	}
	return fallback
}

// GetEnvBool returns the boolean value of key, or fallback if the variable
// is unset or not a valid boolean.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	}
	return fallback
}
