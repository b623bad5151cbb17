package host

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"mini-bridge/payload"
	"mini-bridge/rpcerr"
	"mini-bridge/value"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	valueType   = reflect.TypeOf(value.Value{})
)

// funcType describes a typed handler accepted by RegisterFunc.
type funcType struct {
	fn        reflect.Value
	takesCtx  bool
	argType   reflect.Type // nil when the function takes no arguments
	hasResult bool
	hasError  bool
}

// RegisterFunc registers a typed Go function as a command. fn must have the
// shape
//
//	func([ctx context.Context,] [args Args]) ([Result,] [error])
//
// Args is decoded from the invocation arguments the way payload.Into does
// (struct fields by `cbor` or `json` tag); a value.Value parameter receives
// the arguments undecoded. Result is converted with value.FromAny.
func (r *Registry) RegisterFunc(name string, fn any) error {
	ft, err := newFuncType(fn)
	if err != nil {
		return fmt.Errorf("host: %s: %w", name, err)
	}
	return r.Register(name, ft.handler(name))
}

func newFuncType(fn any) (*funcType, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("handler must be a function, got %T", fn)
	}
	typ := v.Type()
	if typ.IsVariadic() {
		return nil, fmt.Errorf("variadic handlers are not supported")
	}

	ft := &funcType{fn: v}
	in := 0
	if typ.NumIn() > in && typ.In(in) == contextType {
		ft.takesCtx = true
		in++
	}
	if typ.NumIn() > in {
		ft.argType = typ.In(in)
		in++
	}
	if typ.NumIn() != in {
		return nil, fmt.Errorf("handler takes at most a context and one argument, got %s", typ)
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			ft.hasError = true
		} else {
			ft.hasResult = true
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("second result must be error, got %s", typ.Out(1))
		}
		ft.hasResult, ft.hasError = true, true
	default:
		return nil, fmt.Errorf("handler returns at most a result and an error, got %s", typ)
	}
	return ft, nil
}

func (ft *funcType) handler(name string) Handler {
	return func(ctx context.Context, args value.Value) (value.Value, error) {
		in := make([]reflect.Value, 0, 2)
		if ft.takesCtx {
			in = append(in, reflect.ValueOf(&ctx).Elem())
		}
		if ft.argType != nil {
			argv, err := ft.decodeArgs(args)
			if err != nil {
				return value.Null(), rpcerr.New(rpcerr.KindDecoding, name, cause(err))
			}
			in = append(in, argv)
		}

		out := ft.fn.Call(in)

		if ft.hasError {
			if errv := out[len(out)-1]; !errv.IsNil() {
				return value.Null(), errv.Interface().(error)
			}
		}
		if !ft.hasResult {
			return value.Null(), nil
		}
		result, err := value.FromAny(out[0].Interface())
		if err != nil {
			return value.Null(), rpcerr.New(rpcerr.KindEncoding, name, err)
		}
		return result, nil
	}
}

func (ft *funcType) decodeArgs(args value.Value) (reflect.Value, error) {
	if ft.argType == valueType {
		return reflect.ValueOf(args), nil
	}
	// Pointer parameters are filled through a fresh element.
	if ft.argType.Kind() == reflect.Pointer {
		argv := reflect.New(ft.argType.Elem())
		if err := payload.Into(args, argv.Interface()); err != nil {
			return reflect.Value{}, err
		}
		return argv, nil
	}
	argv := reflect.New(ft.argType)
	if err := payload.Into(args, argv.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return argv.Elem(), nil
}

// cause strips an *rpcerr.Error wrapper so it is not reported twice.
func cause(err error) error {
	var re *rpcerr.Error
	if errors.As(err, &re) && re.Err != nil {
		return re.Err
	}
	return err
}
