package log

import (
	"fmt"

	"go.uber.org/zap"
)

// toFields turns loose arguments into zap fields. A zap.Field or an error stands on its
// own; everything else is read as a key/value pair. A trailing value without a key is
// kept under "arg#N", and a non-string key is replaced by "badkey#N".
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			continue
		case error:
			fields = append(fields, zap.Error(v))
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any(fmt.Sprintf("arg#%d", i), args[i]))
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("badkey#%d", i)
		}
		fields = append(fields, zap.Any(key, args[i+1]))
		i++
	}
	return fields
}
