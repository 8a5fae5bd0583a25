package arena

func (hp *Heap[T]) storageAt(h Handle) *T {
	return &hp.storage[h]
}
