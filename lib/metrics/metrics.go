/*
Copyright 2020 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics times the stages of a deploy
package metrics

import (
	"time"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"
)

// Tags labels a timed event
type Tags map[string]string

// Merge returns a copy of these tags updated with other
func (r Tags) Merge(other Tags) Tags {
	merged := make(Tags, len(r)+len(other))
	for key, value := range r {
		merged[key] = value
	}
	for key, value := range other {
		merged[key] = value
	}
	return merged
}

// Recorder times deploy events
type Recorder interface {
	// Start starts timing the named event. The returned function stops the timer
	Start(name string, tags Tags) func()
}

// Time runs fn and records its duration as the named event
func Time(recorder Recorder, name string, tags Tags, fn func() error) error {
	stop := recorder.Start(name, tags)
	defer stop()
	return fn()
}

// Discard is a recorder that records nothing
var Discard Recorder = discard{}

type discard struct{}

func (discard) Start(string, Tags) func() { return func() {} }

// Labels lists the tags recorded with every event.
// Tags outside this list are dropped
var Labels = []string{
	LabelMetric,
	constants.TagTask,
	constants.FieldHost,
	constants.TagInstanceID,
	constants.TagGroup,
	constants.TagEnvironment,
	constants.TagVariant,
	constants.TagStep,
	constants.TagType,
	constants.FieldPackage,
}

// LabelMetric is the label with the event name
const LabelMetric = "metric"

// NewPrometheus returns a recorder that observes event durations
// in a histogram registered with a new registry
func NewPrometheus() *Prometheus {
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: defaults.MetricsNamespace,
		Name:      "event_duration_seconds",
		Help:      "Duration of deploy events.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, Labels)
	registry := prometheus.NewRegistry()
	registry.MustRegister(histogram)
	return &Prometheus{
		Registry:    registry,
		histogram:   histogram,
		FieldLogger: logrus.WithField(trace.Component, constants.ComponentMetrics),
	}
}

// Prometheus records event durations as prometheus histograms
type Prometheus struct {
	// Registry holds the recorded metrics
	*prometheus.Registry
	histogram *prometheus.HistogramVec
	logrus.FieldLogger
}

// Start starts timing the named event
func (r *Prometheus) Start(name string, tags Tags) func() {
	labels := prometheus.Labels{LabelMetric: name}
	for _, label := range Labels[1:] {
		labels[label] = tags[label]
	}
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		r.histogram.With(labels).Observe(elapsed.Seconds())
		r.WithFields(logrus.Fields(toFields(labels))).Debugf("%v took %v.", name, elapsed)
	}
}

// Push pushes the recorded metrics to the pushgateway at url
func (r *Prometheus) Push(url string) error {
	err := push.New(url, defaults.MetricsJob).Gatherer(r.Registry).Push()
	if err != nil {
		return trace.Wrap(err, "failed to push metrics to %v", url)
	}
	return nil
}

func toFields(labels prometheus.Labels) map[string]interface{} {
	fields := make(map[string]interface{}, len(labels))
	for key, value := range labels {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
