package mask

import "gocv.io/x/gocv"

// DefaultStride samples every 4th pixel in each dimension.
const DefaultStride = 4

// Coverage estimates the foreground fraction of a single-channel mask by
// sampling a stride grid and counting samples above half of full scale
// (0.5 for float masks, 127 for 8-bit). Returns 0 for empty input.
func Coverage(m gocv.Mat, stride int) float64 {
	if m.Empty() || m.Channels() != 1 {
		return 0
	}
	if stride <= 0 {
		stride = DefaultStride
	}

	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}

	rows, cols := src.Rows(), src.Cols()
	var above, total int

	switch src.Type() {
	case gocv.MatTypeCV8UC1:
		data, err := src.DataPtrUint8()
		if err != nil {
			return 0
		}
		for y := 0; y < rows; y += stride {
			row := data[y*cols : (y+1)*cols]
			for x := 0; x < cols; x += stride {
				total++
				if row[x] > 127 {
					above++
				}
			}
		}
	case gocv.MatTypeCV32FC1:
		data, err := src.DataPtrFloat32()
		if err != nil {
			return 0
		}
		for y := 0; y < rows; y += stride {
			row := data[y*cols : (y+1)*cols]
			for x := 0; x < cols; x += stride {
				total++
				if row[x] > 0.5 {
					above++
				}
			}
		}
	default:
		return 0
	}

	if total == 0 {
		return 0
	}
	return float64(above) / float64(total)
}
