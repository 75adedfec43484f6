package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath 指定配置文件路径的环境变量
const EnvConfigPath = "STORE_DEMO_CONFIG"

// executable 返回当前可执行文件路径（测试中可替换）
var executable = os.Executable

// PathsConfig 外部组件的可执行文件和数据路径（相对 BaseDir）
type PathsConfig struct {
	PrometheusBin     string
	PrometheusConfig  string
	PrometheusDataDir string
	ElasticsearchBin  string
	KibanaBin         string
	ZookeeperBin      string
	ZookeeperConfig   string
	KafkaServerBin    string
	KafkaServerConfig string
	KafkaDataDir      string
	KafkaProducerBin  string
	JavaBin           string
	SMTPJar           string
	SMTPOutputDir     string
	SMTPPort          int
}

// Config 应用配置
type Config struct {
	BaseDir          string        // 启动后切换到的工作目录（默认为可执行文件所在目录）
	LogLevel         string        // 日志级别
	LogFile          string        // 日志文件路径（可选）
	MetricsListen    string        // metrics HTTP 监听地址
	ElasticURL       string        // Elasticsearch 地址
	ElasticIndexPath string        // 事件写入的 index/type 路径
	KafkaEndpoint    string        // Kafka broker 地址
	KafkaTopic       string        // 补货消息 topic
	ServerLogsDir    string        // 外部组件日志目录
	ScratchDir       string        // 退出时删除的临时目录
	SettleDelay      time.Duration // 启动外部组件后的固定等待时间
	StateDB          string        // 组件进程记录 sqlite 路径（为空则禁用）
	RandSeed         int64         // 随机种子（0 表示使用时间）
	Product          string        // 库存 gauge 的 product 标签
	Paths            PathsConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	BaseDir          string  `yaml:"base_dir" json:"base_dir"`
	LogLevel         string  `yaml:"log_level" json:"log_level"`
	LogFile          string  `yaml:"log_file" json:"log_file"`
	MetricsListen    string  `yaml:"metrics_listen" json:"metrics_listen"`
	ElasticURL       string  `yaml:"elastic_url" json:"elastic_url"`
	ElasticIndexPath string  `yaml:"elastic_index_path" json:"elastic_index_path"`
	KafkaEndpoint    string  `yaml:"kafka_endpoint" json:"kafka_endpoint"`
	KafkaTopic       string  `yaml:"kafka_topic" json:"kafka_topic"`
	ServerLogsDir    string  `yaml:"server_logs_dir" json:"server_logs_dir"`
	ScratchDir       string  `yaml:"scratch_dir" json:"scratch_dir"`
	SettleDelay      string  `yaml:"settle_delay" json:"settle_delay"`
	StateDB          *string `yaml:"state_db" json:"state_db"`
	RandSeed         int64   `yaml:"rand_seed" json:"rand_seed"`
	Product          string  `yaml:"product" json:"product"`
	Paths            struct {
		PrometheusBin     string `yaml:"prometheus_bin" json:"prometheus_bin"`
		PrometheusConfig  string `yaml:"prometheus_config" json:"prometheus_config"`
		PrometheusDataDir string `yaml:"prometheus_data_dir" json:"prometheus_data_dir"`
		ElasticsearchBin  string `yaml:"elasticsearch_bin" json:"elasticsearch_bin"`
		KibanaBin         string `yaml:"kibana_bin" json:"kibana_bin"`
		ZookeeperBin      string `yaml:"zookeeper_bin" json:"zookeeper_bin"`
		ZookeeperConfig   string `yaml:"zookeeper_config" json:"zookeeper_config"`
		KafkaServerBin    string `yaml:"kafka_server_bin" json:"kafka_server_bin"`
		KafkaServerConfig string `yaml:"kafka_server_config" json:"kafka_server_config"`
		KafkaDataDir      string `yaml:"kafka_data_dir" json:"kafka_data_dir"`
		KafkaProducerBin  string `yaml:"kafka_producer_bin" json:"kafka_producer_bin"`
		JavaBin           string `yaml:"java_bin" json:"java_bin"`
		SMTPJar           string `yaml:"smtp_jar" json:"smtp_jar"`
		SMTPOutputDir     string `yaml:"smtp_output_dir" json:"smtp_output_dir"`
		SMTPPort          int    `yaml:"smtp_port" json:"smtp_port"`
	} `yaml:"paths" json:"paths"`
}

// Default 返回默认配置（与演示脚本目录布局一致）
func Default() *Config {
	return &Config{
		LogLevel:         "info",
		MetricsListen:    ":8181",
		ElasticURL:       "http://localhost:9200",
		ElasticIndexPath: "/store/org.hawkular",
		KafkaEndpoint:    "localhost:9092",
		KafkaTopic:       "store",
		ServerLogsDir:    "./server-logs",
		ScratchDir:       "/tmp/zookeeper",
		SettleDelay:      5 * time.Second,
		StateDB:          "./server-logs/components.db",
		Product:          "widget",
		Paths: PathsConfig{
			PrometheusBin:     "./prometheus/prometheus",
			PrometheusConfig:  "./prometheus/prometheus.yml",
			PrometheusDataDir: "./prometheus/data",
			ElasticsearchBin:  "./elasticsearch/bin/elasticsearch",
			KibanaBin:         "./kibana/bin/kibana",
			ZookeeperBin:      "./kafka/bin/zookeeper-server-start.sh",
			ZookeeperConfig:   "./kafka/config/zookeeper.properties",
			KafkaServerBin:    "./kafka/bin/kafka-server-start.sh",
			KafkaServerConfig: "./kafka/config/server.properties",
			KafkaDataDir:      "./kafka/logdata",
			KafkaProducerBin:  "./kafka/bin/kafka-console-producer.sh",
			JavaBin:           "java",
			SMTPJar:           "./FakeSMTP/target/fakeSMTP.jar",
			SMTPOutputDir:     "./FakeSMTP/target/emails",
			SMTPPort:          2525,
		},
	}
}

// Load 加载配置：优先级 环境变量 > 配置文件 > 默认值
// filePath 为空时读取 STORE_DEMO_CONFIG；两者都为空则只使用默认值和环境变量。
func Load(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		filePath = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}

	cfg := Default()
	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, errors.Wrapf(err, "加载配置文件失败 %s", filePath)
		}
		if err := cfg.applyFile(cf); err != nil {
			return nil, errors.Wrapf(err, "配置文件无效 %s", filePath)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	// 相对路径默认相对于可执行文件所在目录
	if cfg.BaseDir == "" {
		exe, err := executable()
		if err != nil {
			return nil, errors.Wrap(err, "解析可执行文件路径失败")
		}
		cfg.BaseDir = filepath.Dir(exe)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func (c *Config) applyFile(cf *ConfigFile) error {
	setString(&c.BaseDir, cf.BaseDir)
	setString(&c.LogLevel, cf.LogLevel)
	setString(&c.LogFile, cf.LogFile)
	setString(&c.MetricsListen, cf.MetricsListen)
	setString(&c.ElasticURL, cf.ElasticURL)
	setString(&c.ElasticIndexPath, cf.ElasticIndexPath)
	setString(&c.KafkaEndpoint, cf.KafkaEndpoint)
	setString(&c.KafkaTopic, cf.KafkaTopic)
	setString(&c.ServerLogsDir, cf.ServerLogsDir)
	setString(&c.ScratchDir, cf.ScratchDir)
	setString(&c.Product, cf.Product)
	// state_db: "" 显式禁用，缺省保留默认值
	if cf.StateDB != nil {
		c.StateDB = strings.TrimSpace(*cf.StateDB)
	}
	if cf.RandSeed != 0 {
		c.RandSeed = cf.RandSeed
	}
	if s := strings.TrimSpace(cf.SettleDelay); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("settle_delay: %w", err)
		}
		c.SettleDelay = d
	}

	p := &c.Paths
	setString(&p.PrometheusBin, cf.Paths.PrometheusBin)
	setString(&p.PrometheusConfig, cf.Paths.PrometheusConfig)
	setString(&p.PrometheusDataDir, cf.Paths.PrometheusDataDir)
	setString(&p.ElasticsearchBin, cf.Paths.ElasticsearchBin)
	setString(&p.KibanaBin, cf.Paths.KibanaBin)
	setString(&p.ZookeeperBin, cf.Paths.ZookeeperBin)
	setString(&p.ZookeeperConfig, cf.Paths.ZookeeperConfig)
	setString(&p.KafkaServerBin, cf.Paths.KafkaServerBin)
	setString(&p.KafkaServerConfig, cf.Paths.KafkaServerConfig)
	setString(&p.KafkaDataDir, cf.Paths.KafkaDataDir)
	setString(&p.KafkaProducerBin, cf.Paths.KafkaProducerBin)
	setString(&p.JavaBin, cf.Paths.JavaBin)
	setString(&p.SMTPJar, cf.Paths.SMTPJar)
	setString(&p.SMTPOutputDir, cf.Paths.SMTPOutputDir)
	if cf.Paths.SMTPPort != 0 {
		p.SMTPPort = cf.Paths.SMTPPort
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.BaseDir = getEnv("STORE_DEMO_BASE_DIR", c.BaseDir)
	c.LogLevel = getEnv("STORE_DEMO_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("STORE_DEMO_LOG_FILE", c.LogFile)
	c.MetricsListen = getEnv("STORE_DEMO_METRICS_LISTEN", c.MetricsListen)
	c.ElasticURL = getEnv("STORE_DEMO_ELASTIC_URL", c.ElasticURL)
	c.ElasticIndexPath = getEnv("STORE_DEMO_ELASTIC_INDEX_PATH", c.ElasticIndexPath)
	c.KafkaEndpoint = getEnv("STORE_DEMO_KAFKA_ENDPOINT", c.KafkaEndpoint)
	c.KafkaTopic = getEnv("STORE_DEMO_KAFKA_TOPIC", c.KafkaTopic)
	c.ServerLogsDir = getEnv("STORE_DEMO_SERVER_LOGS_DIR", c.ServerLogsDir)
	c.ScratchDir = getEnv("STORE_DEMO_SCRATCH_DIR", c.ScratchDir)
	c.Product = getEnv("STORE_DEMO_PRODUCT", c.Product)
	if v, ok := os.LookupEnv("STORE_DEMO_STATE_DB"); ok {
		c.StateDB = strings.TrimSpace(v)
	}
	c.RandSeed = parseInt64Env("STORE_DEMO_RAND_SEED", c.RandSeed)
	if v := strings.TrimSpace(os.Getenv("STORE_DEMO_SETTLE_DELAY")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, "STORE_DEMO_SETTLE_DELAY")
		}
		c.SettleDelay = d
	}
	c.Paths.KafkaProducerBin = getEnv("STORE_DEMO_KAFKA_PRODUCER_BIN", c.Paths.KafkaProducerBin)
	c.Paths.JavaBin = getEnv("STORE_DEMO_JAVA_BIN", c.Paths.JavaBin)
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("metrics_listen 未配置")
	}
	if strings.TrimSpace(c.ElasticURL) == "" {
		return fmt.Errorf("elastic_url 未配置")
	}
	if strings.TrimSpace(c.KafkaEndpoint) == "" {
		return fmt.Errorf("kafka_endpoint 未配置")
	}
	if strings.TrimSpace(c.KafkaTopic) == "" {
		return fmt.Errorf("kafka_topic 未配置")
	}
	if strings.TrimSpace(c.ServerLogsDir) == "" {
		return fmt.Errorf("server_logs_dir 未配置")
	}
	if strings.TrimSpace(c.Paths.KafkaProducerBin) == "" {
		return fmt.Errorf("paths.kafka_producer_bin 未配置")
	}
	if strings.TrimSpace(c.Product) == "" {
		return fmt.Errorf("product 不能为空")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle_delay 不能为负数: %s", c.SettleDelay)
	}
	if c.Paths.SMTPPort <= 0 || c.Paths.SMTPPort > 65535 {
		return fmt.Errorf("paths.smtp_port 无效: %d", c.Paths.SMTPPort)
	}
	return nil
}

// ElasticEndpoint 返回完整的事件写入地址
func (c *Config) ElasticEndpoint() string {
	return strings.TrimSuffix(c.ElasticURL, "/") + "/" + strings.TrimPrefix(c.ElasticIndexPath, "/")
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseInt64Env 解析整数环境变量
func parseInt64Env(key string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
