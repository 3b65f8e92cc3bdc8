/*
   Copyright 2020 Docker Compose CLI authors

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

package tracing

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.19.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/stepvisor/stepvisor/internal"
)

// ExperimentalEnvVar enables exporting traces to the OTLP endpoint set by
// the standard OTEL_ variables
const ExperimentalEnvVar = "STEPVISOR_EXPERIMENTAL_OTEL"

func init() {
	// do not log tracing errors to stdio
	otel.SetErrorHandler(skipErrors{})
}

var Tracer = otel.Tracer("stepvisor")

// ShutdownFunc flushes and stops an OTEL exporter.
type ShutdownFunc func(ctx context.Context) error

// envMap is a convenience type for OS environment variables.
type envMap map[string]string

type skipErrors struct{}

func (skipErrors) Handle(err error) {
	logrus.WithError(err).Debug("tracing")
}

// Initialize configures tracing for the application.
//
// Nothing is exported unless ExperimentalEnvVar is true and an OTLP endpoint
// is configured through OTEL_ environment variables. A nil ShutdownFunc
// means there is nothing to flush.
func Initialize(ctx context.Context) (ShutdownFunc, error) {
	// set global propagator to tracecontext (the default is no-op).
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if v, _ := strconv.ParseBool(os.Getenv(ExperimentalEnvVar)); !v {
		return nil, nil
	}

	res, err := createResource(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	tracerProvider, shutdown, err := createTraceProvider(ctx, res, readOTelEnv())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create trace provider")
	}
	if tracerProvider == nil {
		logrus.Debugf("%s is set but no OTLP endpoint is configured", ExperimentalEnvVar)
		return nil, nil
	}
	otel.SetTracerProvider(tracerProvider)
	return shutdown, nil
}

// createTraceProvider creates a trace.TracerProvider exporting to the OTLP
// endpoint from the OS environment, nil when there is none.
func createTraceProvider(ctx context.Context, res *resource.Resource, otelEnv envMap) (trace.TracerProvider, ShutdownFunc, error) {
	client := userTraceClient(otelEnv)
	if client == nil {
		return nil, nil, nil
	}
	exporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(MuxExporter{exporters: []sdktrace.SpanExporter{exporter}}),
	)
	return tracerProvider, tracerProvider.Shutdown, nil
}

// createResource creates the resource.Resource with common metadata attached.
func createResource(ctx context.Context, opts ...resource.Option) (*resource.Resource, error) {
	opts = append(opts, resource.WithAttributes(
		semconv.ServiceName("stepvisor"),
		semconv.ServiceVersion(internal.Version),
	))
	return resource.New(ctx, opts...)
}

// readOTelEnv returns a map of all environment variables that start with `OTEL_`.
func readOTelEnv() envMap {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(k, "OTEL_") {
			env[k] = v
		}
	}
	return env
}

// userTraceClient creates a gRPC OTLP client based on OS environment
// variables.
//
// https://opentelemetry.io/docs/concepts/sdk-configuration/otlp-exporter-configuration/
func userTraceClient(otelEnv envMap) otlptrace.Client {
	for k, v := range otelEnv {
		if strings.HasSuffix(k, "ENDPOINT") && v != "" {
			return otlptracegrpc.NewClient(
				otlptracegrpc.WithDialOption(grpc.WithUserAgent("stepvisor/" + internal.Version)),
			)
		}
	}
	return nil
}
