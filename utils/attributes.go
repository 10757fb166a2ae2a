package utils

import (
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a convenience wrapper for pulling out typed information from a decoded
// configuration document.
type AttributeMap map[string]interface{}

// DecodeAttributes decodes attributes into the value pointed to by into, using json tags. Fields
// already set on into are kept when the map does not mention them, so callers can decode on top
// of defaults. Unknown keys are an error.
func DecodeAttributes(attributes AttributeMap, into interface{}) error {
	if into == nil || reflect.TypeOf(into).Kind() != reflect.Ptr {
		return errors.Errorf("expected pointer to decode into, got %T", into)
	}
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           into,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return err
	}
	if len(md.Unused) != 0 {
		return errors.Errorf("unknown attributes %v", md.Unused)
	}
	return nil
}
