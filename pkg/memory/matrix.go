package memory

import (
	"fmt"
	"io"
	"os"

	"github.com/jllopis/reasoningbank/pkg/fsutil"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// writeMatrix persists rows as a 2-D .npy array. An empty matrix removes
// the file since a zero-row dense matrix cannot be represented.
func writeMatrix(path string, rows [][]float32) error {
	if len(rows) == 0 {
		return fsutil.RemoveIfExists(path)
	}
	dim := len(rows[0])
	data := make([]float64, 0, len(rows)*dim)
	for i, row := range rows {
		if len(row) != dim {
			return fmt.Errorf("row %d has dimension %d, want %d", i, len(row), dim)
		}
		for _, v := range row {
			data = append(data, float64(v))
		}
	}
	m := mat.NewDense(len(rows), dim, data)
	return fsutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return npyio.Write(w, m)
	})
}

// readMatrix loads a 2-D .npy array written by writeMatrix or by numpy
// (float32 or float64, C or Fortran order).
func readMatrix(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read npy header: %w", err)
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected 2-D array, got shape %v", shape)
	}
	nrows, ncols := shape[0], shape[1]
	if nrows == 0 || ncols == 0 {
		return nil, nil
	}

	switch r.Header.Descr.Type {
	case "<f4":
		var flat []float32
		if err := r.Read(&flat); err != nil {
			return nil, fmt.Errorf("read float32 data: %w", err)
		}
		if len(flat) != nrows*ncols {
			return nil, fmt.Errorf("truncated array: %d values for shape %v", len(flat), shape)
		}
		rows := make([][]float32, nrows)
		for i := range rows {
			row := make([]float32, ncols)
			for j := range row {
				if r.Header.Descr.Fortran {
					row[j] = flat[j*nrows+i]
				} else {
					row[j] = flat[i*ncols+j]
				}
			}
			rows[i] = row
		}
		return rows, nil
	default:
		var m mat.Dense
		if err := r.Read(&m); err != nil {
			return nil, fmt.Errorf("read matrix data: %w", err)
		}
		rows := make([][]float32, nrows)
		for i := range rows {
			row := make([]float32, ncols)
			for j := range row {
				row[j] = float32(m.At(i, j))
			}
			rows[i] = row
		}
		return rows, nil
	}
}
