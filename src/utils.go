package nflow

import "math/rand"

// shuffleRows permutes the example rows of a batch tensor in place
func shuffleRows(x *tensor, rng *rand.Rand) {
	n := x.rows()
	cols := x.cols()
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		for k := 0; k < cols; k++ {
			x.data[i*cols+k], x.data[j*cols+k] = x.data[j*cols+k], x.data[i*cols+k]
		}
	}
}

// batchRows copies out the rows [start, start+batchSize), clamped to the
// tensor's extent
func batchRows(x *tensor, start, batchSize int) *tensor {
	n := x.rows()
	cols := x.cols()
	end := start + batchSize
	if end > n {
		end = n
	}

	batch := newTensor(end-start, cols)
	copy(batch.data, x.data[start*cols:end*cols])
	return batch
}

// splitRows splits examples into a training and a validation tensor
func splitRows(x *tensor, valSplit float64) (*tensor, *tensor) {
	n := x.rows()
	cols := x.cols()
	valSize := int(float64(n) * valSplit)
	trainSize := n - valSize

	train := newTensor(trainSize, cols)
	val := newTensor(valSize, cols)
	copy(train.data, x.data[:trainSize*cols])
	copy(val.data, x.data[trainSize*cols:])
	return train, val
}
