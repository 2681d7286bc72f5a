package worker

import (
	"context"
	"reflect"
	"strings"

	"procproxy/codec"
	"procproxy/envelope"
)

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()

// invokeFunc calls fn with the envelope's encoded arguments.
//
// Parameter matching, in order:
//   - a leading context.Context parameter, if present, receives ctx;
//   - when keyword arguments are present, the final parameter must be a
//     struct (or pointer to struct) and each keyword decodes into the field
//     matching its json tag or name;
//   - every remaining parameter is decoded from the positional arguments,
//     one each; a variadic tail consumes all leftover positionals.
//
// Returns the function's value result (hasResult reports whether the
// signature produces one) or an error. Decode failures come back as
// serialization errors, signature mismatches as invocation errors, and an
// error returned by fn itself is passed through unchanged.
func invokeFunc(ctx context.Context, fn reflect.Value, cdc codec.Codec, args [][]byte, kwargs map[string][]byte) (result any, hasResult bool, err error) {
	ft := fn.Type()
	numIn := ft.NumIn()
	next := 0

	in := make([]reflect.Value, 0, numIn+len(args))
	if numIn > 0 && ft.In(0) == ctxType {
		in = append(in, reflect.ValueOf(ctx))
		next = 1
	}

	// Positional parameters stop short of the keyword struct, if any.
	lastPos := numIn
	if len(kwargs) > 0 {
		if ft.IsVariadic() {
			return nil, false, envelope.Errorf(envelope.CodeInvocation,
				"keyword arguments cannot target a variadic method")
		}
		if numIn == next {
			return nil, false, envelope.Errorf(envelope.CodeInvocation,
				"keyword arguments given but method takes no parameters")
		}
		lastPos = numIn - 1
	}

	fixed := lastPos - next
	if ft.IsVariadic() {
		fixed = numIn - next - 1
		if len(args) < fixed {
			return nil, false, envelope.Errorf(envelope.CodeInvocation,
				"want at least %d positional arguments, got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, false, envelope.Errorf(envelope.CodeInvocation,
			"want %d positional arguments, got %d", fixed, len(args))
	}

	for i, raw := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= fixed {
			pt = ft.In(numIn - 1).Elem()
		} else {
			pt = ft.In(next + i)
		}
		pv := reflect.New(pt)
		if err := cdc.Unmarshal(raw, pv.Interface()); err != nil {
			return nil, false, envelope.Errorf(envelope.CodeSerialization,
				"decoding argument %d: %v", i, err)
		}
		in = append(in, pv.Elem())
	}

	if len(kwargs) > 0 {
		kv, err := decodeKwargs(ft.In(numIn-1), cdc, kwargs)
		if err != nil {
			return nil, false, err
		}
		in = append(in, kv)
	}

	out := fn.Call(in)
	return splitResults(out)
}

// decodeKwargs fills the keyword-struct parameter. Keys match the field's
// json tag first, then the exact field name, then case-insensitively.
func decodeKwargs(pt reflect.Type, cdc codec.Codec, kwargs map[string][]byte) (reflect.Value, error) {
	st := pt
	ptr := false
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
		ptr = true
	}
	if st.Kind() != reflect.Struct {
		return reflect.Value{}, envelope.Errorf(envelope.CodeInvocation,
			"keyword arguments require a struct as the final parameter, have %s", pt)
	}

	sv := reflect.New(st)
	for key, raw := range kwargs {
		fv, ok := fieldByKey(sv.Elem(), key)
		if !ok {
			return reflect.Value{}, envelope.Errorf(envelope.CodeInvocation,
				"unknown keyword argument %q for %s", key, st)
		}
		if err := cdc.Unmarshal(raw, fv.Addr().Interface()); err != nil {
			return reflect.Value{}, envelope.Errorf(envelope.CodeSerialization,
				"decoding keyword argument %q: %v", key, err)
		}
	}
	if ptr {
		return sv, nil
	}
	return sv.Elem(), nil
}

func fieldByKey(sv reflect.Value, key string) (reflect.Value, bool) {
	st := sv.Type()
	var fold reflect.Value
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == key || f.Name == key {
			return sv.Field(i), true
		}
		if tag == "" && strings.EqualFold(f.Name, key) && !fold.IsValid() {
			fold = sv.Field(i)
		}
	}
	if fold.IsValid() {
		return fold, true
	}
	return reflect.Value{}, false
}

// splitResults normalizes the supported return shapes:
// none, T, error, and (T, error).
func splitResults(out []reflect.Value) (any, bool, error) {
	switch len(out) {
	case 0:
		return nil, false, nil
	case 1:
		if out[0].Type() == errType {
			if !out[0].IsNil() {
				return nil, false, out[0].Interface().(error)
			}
			return nil, false, nil
		}
		return out[0].Interface(), true, nil
	case 2:
		if out[1].Type() != errType {
			return nil, false, envelope.Errorf(envelope.CodeInvocation,
				"unsupported return shape: second value must be error, have %s", out[1].Type())
		}
		if !out[1].IsNil() {
			return nil, false, out[1].Interface().(error)
		}
		return out[0].Interface(), true, nil
	default:
		return nil, false, envelope.Errorf(envelope.CodeInvocation,
			"unsupported return shape: %d values", len(out))
	}
}

// toRemote keeps an already-classified RemoteError and wraps anything else
// under the fallback code.
func toRemote(err error, fallback envelope.Code) *envelope.RemoteError {
	if re, ok := err.(*envelope.RemoteError); ok {
		return re
	}
	return envelope.NewRemoteError(fallback, err)
}
