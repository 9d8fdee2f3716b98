package predictor

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otlog "github.com/opentracing/opentracing-go/log"
)

const (
	spanPredictorNew         = "predictor_new"
	spanPredict              = "predict"
	spanEngineBuild          = "engine_build"
	spanAllocateTensors      = "allocate_tensors"
	spanInvoke               = "invoke"
	spanReadPredictionOutput = "read_prediction_output"
)

func startSpan(ctx context.Context, tracer opentracing.Tracer, name string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContextWithTracer(ctx, tracer, name)
}

func finishSpan(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.LogFields(otlog.Error(err), otlog.String("kind", KindOf(err).String()))
	}
	span.Finish()
}
