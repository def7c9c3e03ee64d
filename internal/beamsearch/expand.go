package beamsearch

// expand advances the search by one timestep. It keeps the best beamWidth
// beams of prev, extends each by blank and by every candidate symbol, and
// merges extensions that land on the same label into one beam.
func expand(prev registry, frame []float32, beamWidth, blank int, candidates candidateSet) registry {
	next := make(registry, beamWidth*4)
	pBlank := float64(frame[blank])

	for _, b := range selectTop(prev, beamWidth) {
		last := b.label.last()

		// Blank, or a repeat of the last symbol inside the same run: label unchanged.
		var pRepeat float64
		if last >= 0 {
			pRepeat = b.PNonBlank * float64(frame[last])
		}
		next.entry(b.label).add(b.PTotal*pBlank, pRepeat)

		for _, i := range candidates.at(b.label.depth) {
			p := float64(frame[i])
			mass := b.PTotal * p
			if i == last {
				// A repeated symbol only starts a new label element after a blank.
				mass = b.PBlank * p
			}
			next.entry(b.label.extend(i)).add(0, mass)
		}
	}
	return next
}
