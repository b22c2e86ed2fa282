// Package driver renders a Kubernetes pod spec for a given engine type.
// New engine types are added here, as a new Driver implementation plus an
// entry in the registry; the state machine and the resource client are
// unaffected.
package driver

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/rucat-project/rucat/internal/engine"
)

// Driver renders the container spec for one engine type/version/config set.
type Driver interface {
	PodSpec(version string, configs map[string]string) corev1.PodSpec
}

var registry = map[engine.Type]Driver{
	engine.Spark: sparkDriver{},
}

// For returns the registered driver for typ, or (nil, false) if none exists.
func For(typ engine.Type) (Driver, bool) {
	d, ok := registry[typ]
	return d, ok
}

// sparkDriver renders a single-container pod running the Spark-Connect
// server, flattening the engine's configs map into --conf flags matching
// Spark-Connect's own command-line convention.
type sparkDriver struct{}

func (sparkDriver) PodSpec(version string, configs map[string]string) corev1.PodSpec {
	args := []string{"--class", "org.apache.spark.sql.connect.service.SparkConnectServer"}
	for k, v := range configs {
		args = append(args, "--conf", k+"="+v)
	}
	return corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers: []corev1.Container{
			{
				Name:  "spark-connect",
				Image: "apache/spark:" + version,
				Args:  args,
			},
		},
	}
}
