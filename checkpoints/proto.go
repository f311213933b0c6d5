package checkpoints

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Binary checkpoints use the protobuf wire format:
//
//	message Checkpoint    { repeated Weight weights = 1; TrainingState state = 2; Evaluation evaluation = 3; Metadata metadata = 4; }
//	message Weight        { string name = 1; repeated int64 shape = 2; repeated double data = 3; string layer = 4; string type = 5; }
//	message TrainingState { int64 epoch = 1; double best_val_acc = 2; int64 samples = 3; int64 run = 4; }
//	message Evaluation    { double test_acc = 1; double macro_f1 = 2; int64 num_classes = 3; repeated int64 counts = 4; }
//	message Metadata      { string version = 1; string framework = 2; sint64 created_at_unix_nano = 3;
//	                        string description = 4; repeated string tags = 5; string model = 6; string dataset = 7; }
const (
	fieldWeights    protowire.Number = 1
	fieldState      protowire.Number = 2
	fieldEvaluation protowire.Number = 3
	fieldMetadata   protowire.Number = 4
)

func marshalCheckpoint(c *Checkpoint) []byte {
	var b []byte
	for _, w := range c.Weights {
		b = appendMessage(b, fieldWeights, marshalWeight(w))
	}
	b = appendMessage(b, fieldState, marshalState(c.TrainingState))
	if c.Evaluation != nil {
		b = appendMessage(b, fieldEvaluation, marshalEvaluation(*c.Evaluation))
	}
	return appendMessage(b, fieldMetadata, marshalMetadata(c.Metadata))
}

func unmarshalCheckpoint(b []byte, c *Checkpoint) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case fieldWeights:
			var w WeightTensor
			if err := unmarshalWeight(v, &w); err != nil {
				return 0, errors.Wrap(err, "weight")
			}
			c.Weights = append(c.Weights, w)
		case fieldState:
			if err := unmarshalState(v, &c.TrainingState); err != nil {
				return 0, errors.Wrap(err, "training state")
			}
		case fieldEvaluation:
			var eval Evaluation
			if err := unmarshalEvaluation(v, &eval); err != nil {
				return 0, errors.Wrap(err, "evaluation")
			}
			c.Evaluation = &eval
		case fieldMetadata:
			if err := unmarshalMetadata(v, &c.Metadata); err != nil {
				return 0, errors.Wrap(err, "metadata")
			}
		default:
			return 0, nil
		}
		return n, nil
	})
}

func marshalWeight(w WeightTensor) []byte {
	var b []byte
	b = appendString(b, 1, w.Name)
	b = appendPackedInts(b, 2, w.Shape)
	b = appendPackedDoubles(b, 3, w.Data)
	b = appendString(b, 4, w.Layer)
	return appendString(b, 5, w.Type)
}

func unmarshalWeight(b []byte, w *WeightTensor) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		var err error
		switch num {
		case 1:
			w.Name = string(v)
		case 2:
			w.Shape, err = parsePackedInts(v)
		case 3:
			w.Data, err = parsePackedDoubles(v)
		case 4:
			w.Layer = string(v)
		case 5:
			w.Type = string(v)
		default:
			return 0, nil
		}
		return n, err
	})
}

func marshalState(s TrainingState) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(s.Epoch))
	b = appendDouble(b, 2, s.BestValAccuracy)
	b = appendVarint(b, 3, uint64(s.Samples))
	return appendVarint(b, 4, uint64(s.Run))
}

func unmarshalState(b []byte, s *TrainingState) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 2 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			s.BestValAccuracy = math.Float64frombits(v)
			return n, nil
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case 1:
				s.Epoch = int(int64(v))
			case 3:
				s.Samples = int(int64(v))
			case 4:
				s.Run = int(int64(v))
			default:
				return 0, nil
			}
			return n, nil
		}
		return 0, nil
	})
}

func marshalEvaluation(e Evaluation) []byte {
	var b []byte
	b = appendDouble(b, 1, e.TestAccuracy)
	b = appendDouble(b, 2, e.MacroF1)
	b = appendVarint(b, 3, uint64(len(e.ConfusionMatrix)))
	var counts []int
	for _, row := range e.ConfusionMatrix {
		counts = append(counts, row...)
	}
	return appendPackedInts(b, 4, counts)
}

func unmarshalEvaluation(b []byte, e *Evaluation) error {
	var (
		numClasses int
		counts     []int
	)
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case typ == protowire.Fixed64Type && (num == 1 || num == 2):
			v, n := protowire.ConsumeFixed64(b)
			if num == 1 {
				e.TestAccuracy = math.Float64frombits(v)
			} else {
				e.MacroF1 = math.Float64frombits(v)
			}
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			numClasses = int(v)
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			var err error
			counts, err = parsePackedInts(v)
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return err
	}

	if len(counts) != numClasses*numClasses {
		return errors.Errorf("confusion matrix holds %d counts for %d classes", len(counts), numClasses)
	}
	if numClasses == 0 {
		return nil
	}
	e.ConfusionMatrix = make([][]int, numClasses)
	for i := range e.ConfusionMatrix {
		e.ConfusionMatrix[i] = counts[i*numClasses : (i+1)*numClasses]
	}
	return nil
}

func marshalMetadata(m CheckpointMetadata) []byte {
	var b []byte
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	if !m.CreatedAt.IsZero() {
		b = appendVarint(b, 3, protowire.EncodeZigZag(m.CreatedAt.UnixNano()))
	}
	b = appendString(b, 4, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	b = appendString(b, 6, m.Model)
	return appendString(b, 7, m.Dataset)
}

func unmarshalMetadata(b []byte, m *CheckpointMetadata) error {
	return consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 3 && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			m.CreatedAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			return n, nil
		}
		if typ != protowire.BytesType {
			return 0, nil
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return n, nil
		}
		switch num {
		case 1:
			m.Version = v
		case 2:
			m.Framework = v
		case 4:
			m.Description = v
		case 5:
			m.Tags = append(m.Tags, v)
		case 6:
			m.Model = v
		case 7:
			m.Dataset = v
		default:
			return 0, nil
		}
		return n, nil
	})
}

// consumeMessage walks the fields of b. fn returns the number of bytes it
// consumed after the tag, 0 to skip the field, or a negative protowire error
// code.
func consumeMessage(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendPackedInts(b []byte, num protowire.Number, values []int) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	return appendMessage(b, num, packed)
}

func parsePackedInts(b []byte) ([]int, error) {
	var out []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int(int64(v)))
		b = b[n:]
	}
	return out, nil
}

func appendPackedDoubles(b []byte, num protowire.Number, values []float64) []byte {
	packed := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(packed[8*i:], math.Float64bits(v))
	}
	return appendMessage(b, num, packed)
}

func parsePackedDoubles(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, errors.Errorf("packed doubles have %d bytes", len(b))
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return out, nil
}
