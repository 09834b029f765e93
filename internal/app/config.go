package app

import (
	"os"
	"strconv"
	"strings"
)

// Config is the process's full configuration surface, loaded once at
// startup from environment variables.
type Config struct {
	HTTPAddr      string
	MongoURI      string
	MongoDatabase string
	LogLevel      string
	LogFormat     string
	OutputDir     string
	FFMPEGPath    string

	// VideoSource selects the demo pipeline's upstream producer: "reader"
	// drives MovieInput off the synthetic asset decoder, "player" drives
	// MoviePlayer off the synthetic playback engine's display tap.
	VideoSource string

	// Pipeline behavior: the MovieInput/MovieOutput pacing and writer
	// options.
	LiveVideo                     bool
	WaitUntilReady                bool
	PlayAtActualSpeed             bool
	PlayRate                      float64
	MaxFPS                        int
	Loop                          bool
	UseRealtimeThreads            bool
	CacheBufferedDurationSeconds  float64
	DisablePixelBufferAttachments bool
	OptimizeForNetworkUse         bool
	TranscodingOnly               bool

	VideoWidth      int
	VideoHeight     int
	AssetDuration   float64
	AudioEnabled    bool
	AudioSampleRate int
	AudioChannels   int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DB", "movie_pipeline"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
		OutputDir:     getEnv("OUTPUT_DIR", "recordings"),
		FFMPEGPath:    getEnv("FFMPEG_PATH", "ffmpeg"),
		VideoSource:   strings.ToLower(getEnv("VIDEO_SOURCE", "reader")),

		LiveVideo:                     getEnvBool("LIVE_VIDEO", true),
		WaitUntilReady:                getEnvBool("WAIT_UNTIL_READY", false),
		PlayAtActualSpeed:             getEnvBool("PLAY_AT_ACTUAL_SPEED", true),
		PlayRate:                      getEnvFloat("PLAY_RATE", 1.0),
		MaxFPS:                        int(getEnvInt64("MAX_FPS", 0)),
		Loop:                          getEnvBool("LOOP", false),
		UseRealtimeThreads:            getEnvBool("USE_REALTIME_THREADS", false),
		CacheBufferedDurationSeconds:  getEnvFloat("CACHE_BUFFERED_DURATION_SECONDS", 3.0),
		DisablePixelBufferAttachments: getEnvBool("DISABLE_PIXEL_BUFFER_ATTACHMENTS", false),
		OptimizeForNetworkUse:         getEnvBool("OPTIMIZE_FOR_NETWORK_USE", true),
		TranscodingOnly:               getEnvBool("TRANSCODING_ONLY", false),

		VideoWidth:      int(getEnvInt64("VIDEO_WIDTH", 1920)),
		VideoHeight:     int(getEnvInt64("VIDEO_HEIGHT", 1080)),
		AssetDuration:   getEnvFloat("ASSET_DURATION_SECONDS", 3600),
		AudioEnabled:    getEnvBool("AUDIO_ENABLED", true),
		AudioSampleRate: int(getEnvInt64("AUDIO_SAMPLE_RATE", 44100)),
		AudioChannels:   int(getEnvInt64("AUDIO_CHANNELS", 2)),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
