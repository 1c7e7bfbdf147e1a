// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/Corphon/GeneGenie/internal/utils"
	"github.com/joho/godotenv"
)

// encryptedKeyField 配置文件中保存加密密钥的字段
const encryptedKeyField = "api_key_encrypted"

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
	configSecret  string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port           string `json:"port"`
	LLMAPIKey      string `json:"-"`
	NCBIAPIKey     string `json:"-"` // 预留，当前没有功能使用
	DataDir        string `json:"data_dir"`
	LogDir         string `json:"log_dir"`
	DebugMode      bool   `json:"debug_mode"`
	MaxUploadMB    int    `json:"max_upload_mb"`
	ExtractWorkers int    `json:"extract_workers"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`
}

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port           string
	LLMAPIKey      string
	NCBIAPIKey     string
	SecretKey      string
	DataDir        string
	LogDir         string
	DebugMode      bool
	MaxUploadMB    int
	ExtractWorkers int

	LLMProvider    string
	LLMModel       string
	LLMBaseURL     string
	LLMTimeoutSecs int
}

// Load 从环境变量加载配置，并确保数据和日志目录存在
func Load() (*Config, error) {
	config, err := LoadSettings()
	if err != nil {
		return nil, err
	}
	ensureDir(config.DataDir)
	ensureDir(config.LogDir)
	return config, nil
}

// LoadSettings 只读取环境变量，不创建任何目录
func LoadSettings() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	config := &Config{
		Port: getEnv("PORT", "8080"),
		// LLM_API_KEY 对所有提供者生效，OPENAI_API_KEY 作为兼容回退
		LLMAPIKey:      getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", "")),
		NCBIAPIKey:     getEnv("NCBI_API_KEY", ""),
		SecretKey:      getEnv("CONFIG_SECRET", ""),
		DataDir:        getEnv("DATA_DIR", "data"),
		LogDir:         getEnv("LOG_DIR", "logs"),
		DebugMode:      getEnvBool("DEBUG_MODE", true),
		MaxUploadMB:    getEnvInt("MAX_UPLOAD_MB", 32),
		ExtractWorkers: getEnvInt("EXTRACT_WORKERS", 1),
		LLMProvider:    getEnv("LLM_PROVIDER", "openai"),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o"),
		LLMBaseURL:     getEnv("LLM_BASE_URL", ""),
		LLMTimeoutSecs: getEnvInt("LLM_TIMEOUT_SECONDS", 60),
	}

	if config.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_MB 必须大于0: %d", config.MaxUploadMB)
	}
	if config.ExtractWorkers <= 0 {
		config.ExtractWorkers = 1
	}

	// 没有密钥时摘要功能不可用，但抽取和导出仍然可以工作
	if config.LLMAPIKey == "" {
		log.Println("警告: 未设置LLM_API_KEY或OPENAI_API_KEY，序列摘要功能将不可用")
	}

	return config, nil
}

// LLMSettings 根据基础配置生成提供者配置
func (c *Config) LLMSettings() map[string]string {
	settings := map[string]string{
		"api_key":         c.LLMAPIKey,
		"default_model":   c.LLMModel,
		"timeout_seconds": strconv.Itoa(c.LLMTimeoutSecs),
	}
	if c.LLMBaseURL != "" {
		settings["base_url"] = c.LLMBaseURL
	}
	return settings
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ensureDir 确保目录存在
func ensureDir(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量，无法解析时使用默认值
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("警告: 环境变量 %s=%q 不是整数，使用默认值 %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	baseConfig, err := Load()
	if err != nil {
		return err
	}
	return initFrom(baseConfig, dataDir)
}

func initFrom(baseConfig *Config, dataDir string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	configFile = filepath.Join(dataDir, "config.json")

	cfg := &AppConfig{
		Port:           baseConfig.Port,
		LLMAPIKey:      baseConfig.LLMAPIKey,
		NCBIAPIKey:     baseConfig.NCBIAPIKey,
		DataDir:        baseConfig.DataDir,
		LogDir:         baseConfig.LogDir,
		DebugMode:      baseConfig.DebugMode,
		MaxUploadMB:    baseConfig.MaxUploadMB,
		ExtractWorkers: baseConfig.ExtractWorkers,
		LLMProvider:    baseConfig.LLMProvider,
		LLMConfig:      baseConfig.LLMSettings(),
	}

	configSecret = baseConfig.SecretKey

	// 尝试从文件加载已保存的LLM设置
	savedKey := ""
	if data, err := os.ReadFile(configFile); err == nil {
		var saved AppConfig
		if json.Unmarshal(data, &saved) == nil && saved.LLMProvider != "" {
			cfg.LLMProvider = saved.LLMProvider
			if saved.LLMConfig != nil {
				cfg.LLMConfig = saved.LLMConfig
			}
		}
		if sealed := cfg.LLMConfig[encryptedKeyField]; sealed != "" && configSecret != "" {
			if key, err := utils.DecryptSecret(sealed, configSecret); err == nil {
				savedKey = key
			} else {
				log.Printf("警告: 无法解密保存的API密钥: %v", err)
			}
		}
		delete(cfg.LLMConfig, encryptedKeyField)
	}

	// 环境变量中的密钥优先
	cfg.LLMConfig["api_key"] = baseConfig.LLMAPIKey
	if cfg.LLMConfig["api_key"] == "" {
		cfg.LLMConfig["api_key"] = savedKey
	}

	currentConfig = cfg
	return saveConfigLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, err := Load()
		if err != nil {
			baseConfig = &Config{Port: "8080", DataDir: "data", LogDir: "logs", MaxUploadMB: 32, ExtractWorkers: 1, LLMProvider: "openai", LLMModel: "gpt-4o", LLMTimeoutSecs: 60}
		}
		return &AppConfig{
			Port:           baseConfig.Port,
			LLMAPIKey:      baseConfig.LLMAPIKey,
			DataDir:        baseConfig.DataDir,
			LogDir:         baseConfig.LogDir,
			DebugMode:      baseConfig.DebugMode,
			MaxUploadMB:    baseConfig.MaxUploadMB,
			ExtractWorkers: baseConfig.ExtractWorkers,
			LLMProvider:    baseConfig.LLMProvider,
			LLMConfig:      baseConfig.LLMSettings(),
		}
	}

	// 返回配置的副本
	configCopy := *currentConfig
	configCopy.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		configCopy.LLMConfig[k] = v
	}
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, settings map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	merged := make(map[string]string, len(settings)+1)
	for k, v := range settings {
		merged[k] = v
	}
	if merged["api_key"] == "" {
		merged["api_key"] = currentConfig.LLMConfig["api_key"]
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = merged

	return saveConfigLocked()
}

func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	// 明文密钥不写入文件；设置了 CONFIG_SECRET 时保存加密后的密钥
	persisted := *currentConfig
	persisted.LLMConfig = make(map[string]string, len(currentConfig.LLMConfig))
	for k, v := range currentConfig.LLMConfig {
		if k == "api_key" {
			continue
		}
		persisted.LLMConfig[k] = v
	}
	if key := currentConfig.LLMConfig["api_key"]; key != "" && configSecret != "" {
		sealed, err := utils.EncryptSecret(key, configSecret)
		if err != nil {
			return fmt.Errorf("加密API密钥失败: %w", err)
		}
		persisted.LLMConfig[encryptedKeyField] = sealed
	}

	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
