package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress   string `yaml:"http_address"`
	AuthPassword  string `yaml:"auth_password"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	GeminiModelID string `yaml:"gemini_model_id"`
	TTSModelID    string `yaml:"tts_model_id"`
	TTSVoice      string `yaml:"tts_voice"`
	TTSEngine     string `yaml:"tts_engine"` // "gemini" (default) or "deepgram"
	DeepgramKey   string `yaml:"deepgram_api_key"`
	DeepgramModel string `yaml:"deepgram_model"`
	AssemblyAIKey string `yaml:"assemblyai_api_key"`
	MaxToolSteps  int    `yaml:"max_tool_steps"`
}

// Load reads an optional YAML file (PAIR_CONFIG), applies environment
// variables on top, and returns Config with sane defaults. The Gemini API key
// is the one process-wide secret the assistant cannot run without, so its
// absence is an error rather than a warning.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file loaded")
	}

	var cfg Config
	if path := os.Getenv("PAIR_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	overlay(&cfg.HTTPAddress, "HTTP_ADDRESS")
	overlay(&cfg.AuthPassword, "AUTH_PASSWORD")
	overlay(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	overlay(&cfg.GeminiModelID, "GEMINI_MODEL_ID")
	overlay(&cfg.TTSModelID, "TTS_MODEL_ID")
	overlay(&cfg.TTSVoice, "TTS_VOICE")
	overlay(&cfg.TTSEngine, "TTS_ENGINE")
	overlay(&cfg.DeepgramKey, "DEEPGRAM_API_KEY")
	overlay(&cfg.DeepgramModel, "DEEPGRAM_MODEL")
	overlay(&cfg.AssemblyAIKey, "ASSEMBLYAI_API_KEY")
	if v := os.Getenv("MAX_TOOL_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("config: invalid MAX_TOOL_STEPS %q", v)
		}
		cfg.MaxToolSteps = n
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = ":8080"
	}
	if cfg.GeminiModelID == "" {
		cfg.GeminiModelID = "gemini-2.0-flash"
	}
	if cfg.TTSModelID == "" {
		cfg.TTSModelID = "gemini-2.5-flash-preview-tts"
	}
	if cfg.TTSVoice == "" {
		cfg.TTSVoice = "Kore"
	}
	if cfg.TTSEngine == "" {
		cfg.TTSEngine = "gemini"
	}
	if cfg.MaxToolSteps == 0 {
		cfg.MaxToolSteps = 5
	}

	if cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("config: GEMINI_API_KEY is not set; the assistant cannot start without it")
	}
	if cfg.TTSEngine != "gemini" && cfg.TTSEngine != "deepgram" {
		return Config{}, fmt.Errorf("config: unknown TTS_ENGINE %q", cfg.TTSEngine)
	}
	if cfg.AssemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - voice input will not work")
	}
	if cfg.TTSEngine == "deepgram" && cfg.DeepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - spoken replies will be skipped")
	}

	log.Printf("config: HTTP_ADDRESS=%s model=%s tts=%s", cfg.HTTPAddress, cfg.GeminiModelID, cfg.TTSEngine)
	return cfg, nil
}

func overlay(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
