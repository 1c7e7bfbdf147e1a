package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setTestEnv(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("PORT", "9090")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("DEBUG_MODE", "false")
	t.Setenv("MAX_UPLOAD_MB", "8")
	t.Setenv("EXTRACT_WORKERS", "4")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_MODEL", "gpt-4o")
	t.Setenv("LLM_BASE_URL", "")
	t.Setenv("LLM_TIMEOUT_SECONDS", "")
	t.Setenv("CONFIG_SECRET", "")
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	setTestEnv(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Port != "9090" || cfg.DebugMode || cfg.MaxUploadMB != 8 || cfg.ExtractWorkers != 4 {
		t.Errorf("配置值不正确: %+v", cfg)
	}
	if cfg.LLMTimeoutSecs != 60 {
		t.Errorf("默认超时应为60秒, got %d", cfg.LLMTimeoutSecs)
	}
	if _, err := os.Stat(cfg.DataDir); err != nil {
		t.Errorf("数据目录应已创建: %v", err)
	}

	settings := cfg.LLMSettings()
	if settings["api_key"] != "sk-test" || settings["default_model"] != "gpt-4o" {
		t.Errorf("LLM设置不正确: %v", settings)
	}
	if _, ok := settings["base_url"]; ok {
		t.Error("未配置 LLM_BASE_URL 时不应设置 base_url")
	}
}

func TestLoadRejectsBadUploadLimit(t *testing.T) {
	setTestEnv(t, t.TempDir())
	t.Setenv("MAX_UPLOAD_MB", "0")

	if _, err := Load(); err == nil {
		t.Fatal("MAX_UPLOAD_MB=0 应返回错误")
	}
}

func TestInitConfigPersistsWithoutKey(t *testing.T) {
	dir := t.TempDir()
	setTestEnv(t, dir)

	if err := InitConfig(dir); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}

	if err := UpdateLLMConfig("anthropic", map[string]string{"default_model": "claude-haiku-4.5"}); err != nil {
		t.Fatalf("更新LLM配置失败: %v", err)
	}

	cfg := GetCurrentConfig()
	if cfg.LLMProvider != "anthropic" || cfg.LLMConfig["default_model"] != "claude-haiku-4.5" {
		t.Errorf("LLM配置未更新: %+v", cfg)
	}
	if cfg.LLMConfig["api_key"] != "sk-test" {
		t.Error("更新后应保留环境变量中的密钥")
	}

	// 修改副本不应影响全局配置
	cfg.LLMConfig["default_model"] = "changed"
	if GetCurrentConfig().LLMConfig["default_model"] == "changed" {
		t.Error("GetCurrentConfig 应返回副本")
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("配置文件应已创建: %v", err)
	}
	if strings.Contains(string(data), "sk-test") {
		t.Error("配置文件不应包含API密钥")
	}

	var saved AppConfig
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("解析配置文件失败: %v", err)
	}
	if saved.LLMProvider != "anthropic" {
		t.Errorf("保存的提供者 = %s", saved.LLMProvider)
	}

	// 重新初始化应恢复保存的LLM设置
	if err := InitConfig(dir); err != nil {
		t.Fatalf("重新初始化失败: %v", err)
	}
	if got := GetCurrentConfig().LLMProvider; got != "anthropic" {
		t.Errorf("重新初始化后提供者 = %s, 期望 anthropic", got)
	}
}

func TestEncryptedKeySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	setTestEnv(t, dir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CONFIG_SECRET", "local-passphrase")

	if err := InitConfig(dir); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}
	if err := UpdateLLMConfig("openai", map[string]string{"api_key": "sk-runtime"}); err != nil {
		t.Fatalf("更新LLM配置失败: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-runtime") {
		t.Fatal("配置文件不应包含明文密钥")
	}
	if !strings.Contains(string(data), encryptedKeyField) {
		t.Fatal("配置文件应包含加密后的密钥")
	}

	if err := InitConfig(dir); err != nil {
		t.Fatalf("重新初始化失败: %v", err)
	}
	cfg := GetCurrentConfig()
	if cfg.LLMConfig["api_key"] != "sk-runtime" {
		t.Errorf("重启后应恢复密钥, got %q", cfg.LLMConfig["api_key"])
	}
	if _, ok := cfg.LLMConfig[encryptedKeyField]; ok {
		t.Error("内存中的配置不应保留加密字段")
	}

	// 口令不匹配时退回为空密钥
	t.Setenv("CONFIG_SECRET", "other")
	if err := InitConfig(dir); err != nil {
		t.Fatalf("重新初始化失败: %v", err)
	}
	if key := GetCurrentConfig().LLMConfig["api_key"]; key != "" {
		t.Errorf("错误口令不应恢复密钥, got %q", key)
	}
}

func TestLLMAPIKeyOverridesOpenAIKey(t *testing.T) {
	setTestEnv(t, t.TempDir())
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("LLM_API_KEY", "sk-ant-test")

	cfg, err := LoadSettings()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if got := cfg.LLMSettings()["api_key"]; got != "sk-ant-test" {
		t.Errorf("应优先使用 LLM_API_KEY, got %q", got)
	}

	t.Setenv("LLM_API_KEY", "")
	cfg, err = LoadSettings()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if got := cfg.LLMSettings()["api_key"]; got != "sk-test" {
		t.Errorf("未设置 LLM_API_KEY 时应回退到 OPENAI_API_KEY, got %q", got)
	}
}

func TestLoadSettingsCreatesNoDirectories(t *testing.T) {
	dir := t.TempDir()
	setTestEnv(t, dir)

	cfg, err := LoadSettings()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	for _, path := range []string{cfg.DataDir, cfg.LogDir} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("LoadSettings 不应创建目录 %s", path)
		}
	}

	if _, err := Load(); err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if _, err := os.Stat(cfg.DataDir); err != nil {
		t.Errorf("Load 应创建数据目录: %v", err)
	}
}
