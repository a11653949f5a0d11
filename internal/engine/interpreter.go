package engine

import (
	"errors"
	"fmt"
)

// TensorDetails describes one model input or output.
type TensorDetails struct {
	Index int
	Name  string
	Shape []int
	DType DType
	Quant *QuantParams
}

// Interpreter executes a graph one sample at a time. It is not safe for
// concurrent use.
type Interpreter struct {
	g         *Graph
	outShapes [][]int
	input     *Tensor
	outputs   []*Tensor
}

func NewInterpreter(g *Graph) (*Interpreter, error) {
	shapes, err := g.Validate()
	if err != nil {
		return nil, err
	}
	return &Interpreter{g: g, outShapes: shapes}, nil
}

// LoadInterpreter reads an encoded model from disk.
func LoadInterpreter(path string) (*Interpreter, error) {
	g, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewInterpreter(g)
}

func (it *Interpreter) Graph() *Graph {
	return it.g
}

func (it *Interpreter) InputDetails() TensorDetails {
	d := TensorDetails{
		Index: 0,
		Name:  it.g.Input.Name,
		Shape: append([]int(nil), it.g.Input.Shape...),
		DType: it.g.Input.DType,
	}
	if it.g.Input.Quant != nil {
		q := *it.g.Input.Quant
		d.Quant = &q
	}
	return d
}

// OutputDetails lists outputs in head order.
func (it *Interpreter) OutputDetails() []TensorDetails {
	out := make([]TensorDetails, 0, len(it.g.Heads))
	for i, h := range it.g.Heads {
		d := TensorDetails{
			Index: i + 1,
			Name:  h.Name,
			Shape: append([]int(nil), it.outShapes[i]...),
			DType: it.g.OutputType,
		}
		if n := len(h.Layers); n > 0 && h.Layers[n-1].OutQuant != nil {
			q := *h.Layers[n-1].OutQuant
			d.Quant = &q
		}
		out = append(out, d)
	}
	return out
}

// SetInput binds the tensor for the next Invoke. Shape and dtype must
// match the input details exactly.
func (it *Interpreter) SetInput(t *Tensor) error {
	if t.DType != it.g.Input.DType || !sameShape(t.Shape, it.g.Input.Shape) {
		return fmt.Errorf("%w: got %s%v, model expects %s%v",
			ErrShapeMismatch, t.DType, t.Shape, it.g.Input.DType, it.g.Input.Shape)
	}
	if err := t.check(); err != nil {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	it.input = t
	return nil
}

func (it *Interpreter) Invoke() error {
	if it.input == nil {
		return errors.New("invoke: no input set")
	}
	var (
		outs []*Tensor
		err  error
	)
	if it.g.Input.DType == UInt8 {
		outs, err = it.g.forwardQuant(it.input)
	} else {
		outs, err = it.g.forwardFloat(it.input, nil)
	}
	if err != nil {
		return err
	}
	for _, o := range outs {
		o.DType = it.g.OutputType
	}
	it.outputs = outs
	return nil
}

// Output returns a copy of output i from the last Invoke.
func (it *Interpreter) Output(i int) (*Tensor, error) {
	if i < 0 || i >= len(it.outputs) {
		return nil, fmt.Errorf("output %d out of range (%d outputs)", i, len(it.outputs))
	}
	return it.outputs[i].Clone(), nil
}
