package pipeline

import (
	"fmt"
	"strconv"
)

// stageIndex zero-pads idx (0-based) to the width of poolSize, 1-based in
// the rendered name. A pool of size 1 renders "_1", never "_01"; a pool of
// size 10 renders "_01".."_10".
func stageIndex(idx, poolSize int) string {
	width := len(strconv.Itoa(poolSize))
	return fmt.Sprintf("%0*d", width, idx+1)
}

func producerName(topology, group string, idx, poolSize int) string {
	return fmt.Sprintf("%s.Producer_%s_%s", topology, group, stageIndex(idx, poolSize))
}

func processorName(topology string, idx, poolSize int) string {
	return fmt.Sprintf("%s.Processor_%s", topology, stageIndex(idx, poolSize))
}

func batcherName(topology, key string) string {
	return fmt.Sprintf("%s.Batcher_%s", topology, key)
}

func consumerName(topology, key string, idx, poolSize int) string {
	return fmt.Sprintf("%s.Consumer_%s_%s", topology, key, stageIndex(idx, poolSize))
}
