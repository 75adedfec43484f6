package supervisor

import (
	"strconv"
	"strings"

	"github.com/betbot/storedemo/pkg/config"
)

// StopMode selects the signal sent to a component on teardown.
type StopMode int

const (
	StopTerminate StopMode = iota // SIGTERM
	StopKill                      // SIGKILL
)

func (m StopMode) String() string {
	switch m {
	case StopKill:
		return "kill"
	default:
		return "terminate"
	}
}

// Component is one external server launched by the supervisor.
type Component struct {
	Name     string
	Path     string
	Args     []string
	StopMode StopMode
}

// LogFile is the per-component log name under the logs dir.
func (c Component) LogFile() string { return c.Name + ".log" }

func (c Component) CommandLine() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// DefaultComponents returns the demo's six servers in launch order.
// Kafka is the only component that is killed rather than terminated.
func DefaultComponents(p config.PathsConfig) []Component {
	return []Component{
		{
			Name: "prometheus",
			Path: p.PrometheusBin,
			Args: []string{"-storage.local.path", p.PrometheusDataDir, "-config.file", p.PrometheusConfig},
		},
		{Name: "elasticsearch", Path: p.ElasticsearchBin},
		{Name: "kibana", Path: p.KibanaBin},
		{Name: "zookeeper", Path: p.ZookeeperBin, Args: []string{p.ZookeeperConfig}},
		{
			Name: "kafka",
			Path: p.KafkaServerBin,
			Args: []string{
				p.KafkaServerConfig,
				"--override", "log.dirs=" + p.KafkaDataDir,
				"--override", "log.dir=" + p.KafkaDataDir,
			},
			StopMode: StopKill,
		},
		{
			Name: "smtp",
			Path: p.JavaBin,
			Args: []string{
				"-jar", p.SMTPJar,
				"--start-server",
				"--port", strconv.Itoa(p.SMTPPort),
				"--output-dir", p.SMTPOutputDir,
			},
		},
	}
}
