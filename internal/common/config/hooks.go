package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/ngageoint/scale/internal/scheduler/schedulerobjects"
)

const mebibyte = 1 << 20

// CustomHooks replaces viper's default decode hooks, so the defaults are composed in here too.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		ResourcesDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)),
}

// ResourcesDecodeHook decodes a map of resource name to quantity into NodeResources.
// Quantities may be numbers or Kubernetes quantity strings, e.g., "500m" or "16Gi".
// Memory and disk quantities given as strings are converted to MiB; plain numbers are taken to already be MiB.
func ResourcesDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if t != reflect.TypeOf(schedulerobjects.NodeResources{}) || f.Kind() != reflect.Map {
			return data, nil
		}
		values := reflect.ValueOf(data)
		resources := make(map[string]float64, values.Len())
		iter := values.MapRange()
		for iter.Next() {
			name := strings.ToLower(fmt.Sprintf("%v", iter.Key().Interface()))
			value, err := parseResourceQuantity(name, iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			resources[name] = value
		}
		return *schedulerobjects.NewNodeResources(resources), nil
	}
}

func parseResourceQuantity(name string, data interface{}) (float64, error) {
	switch v := data.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	}
	q, err := resource.ParseQuantity(fmt.Sprintf("%v", data))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid quantity for resource %s", name)
	}
	if name == schedulerobjects.Mem || name == schedulerobjects.Disk {
		return float64(q.Value()) / mebibyte, nil
	}
	return q.AsApproximateFloat64(), nil
}
