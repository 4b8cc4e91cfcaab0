package rjmcmc

import "math"

// isInBounds reports whether v lies in the closed interval [lo,hi].
func isInBounds(lo, hi, v float64) bool { return v >= lo && v <= hi }

// proposeValueChange perturbs one layer's value (spec.md §4.3 "Value
// change"). In the linear parameterization the perturbation is
// lognormal-scaled relative to the current value and the
// proposal is not symmetric, so the Hastings ratio q_reverse/q_forward
// is included; in the log10 parameterization the random walk is
// symmetric and the ratio is 1.
func (s *Sampler) proposeValueChange(chn *Chain, mpro *Model) (bool, error) {
	mcur := chn.Model
	chn.ValueChange.propose()

	index := s.irand(0, mcur.NLayers()-1)
	logstd := s.Options.LogStdDecades
	vold := mcur.Layers[index].Value

	var vnew, pqratio float64
	if s.Options.ValueLog10 {
		vnew = vold + logstd*s.nrand()
		pqratio = 1.0
	} else {
		scale := (math.Pow(10, logstd) - math.Pow(10, -logstd)) / 2.0
		vnew = vold + scale*vold*s.nrand()
		qf := gaussianPDF(vold, scale*vold, vnew)
		qr := gaussianPDF(vnew, scale*vnew, vold)
		pqratio = qr / qf
	}

	if !isInBounds(s.Options.VMin, s.Options.VMax, vnew) {
		return false, nil
	}
	mpro.Layers[index].Value = vnew
	if err := s.computeMisfit(mpro); err != nil {
		return false, err
	}

	logar := math.Log(pqratio) - (mpro.Misfit-mcur.Misfit)/2.0/chn.Temperature
	if s.logUnif() < logar {
		chn.ValueChange.accept()
		return true, nil
	}
	return false, nil
}

// proposeMove relocates one interface (spec.md §4.3 "Move").
func (s *Sampler) proposeMove(chn *Chain, mpro *Model) (bool, error) {
	mcur := chn.Model
	chn.Move.propose()
	if mcur.NLayers() <= 1 {
		return false, nil
	}

	index := s.irand(1, mcur.NLayers()-1)
	pold := mcur.Layers[index].Top
	std := s.Options.MoveStdFraction * pold
	pnew := pold + std*s.nrand()
	qf := gaussianPDF(pold, pold*s.Options.MoveStdFraction, pnew)
	qr := gaussianPDF(pnew, pnew*s.Options.MoveStdFraction, pold)

	if !mpro.MoveInterface(index, pnew, s.Options.PMax) {
		return false, nil
	}
	if err := s.computeMisfit(mpro); err != nil {
		return false, err
	}

	logar := math.Log(qr/qf) - (mpro.Misfit-mcur.Misfit)/2.0/chn.Temperature
	if s.logUnif() < logar {
		chn.Move.accept()
		return true, nil
	}
	return false, nil
}

// proposeBirth inserts a new interface (spec.md §4.3 "Birth").
func (s *Sampler) proposeBirth(chn *Chain, mpro *Model) (bool, error) {
	mcur := chn.Model
	chn.Birth.propose()
	if mcur.NLayers() >= s.Options.NLMax {
		return false, nil
	}

	pos := s.urand(0, s.Options.PMax)
	li := mcur.WhichLayer(pos)
	vold := mcur.Layers[li].Value

	var vnew, pqratio float64
	if s.Options.BirthDeathFromPrior {
		vnew = s.urand(s.Options.VMin, s.Options.VMax)
		pqratio = 1.0
	} else {
		logstd := s.Options.LogStdDecades
		var vcpdf float64
		if s.Options.ValueLog10 {
			vnew = vold + logstd*s.nrand()
			vcpdf = gaussianPDF(vold, logstd, vnew)
		} else {
			scale := (math.Pow(10, logstd) - math.Pow(10, -logstd)) / 2.0
			vnew = vold + scale*vold*s.nrand()
			vcpdf = gaussianPDF(vold, scale*vold, vnew)
		}
		pqratio = 1.0 / ((s.Options.VMax - s.Options.VMin) * vcpdf)
	}

	if !mpro.InsertInterface(pos, vnew, s.Options.PMax, s.Options.VMin, s.Options.VMax) {
		return false, nil
	}
	if err := s.computeMisfit(mpro); err != nil {
		return false, err
	}

	logar := math.Log(pqratio) - (mpro.Misfit-mcur.Misfit)/2.0/chn.Temperature
	if s.logUnif() < logar {
		chn.Birth.accept()
		return true, nil
	}
	return false, nil
}

// proposeDeath removes an interface (spec.md §4.3 "Death"), the reverse
// move of Birth.
func (s *Sampler) proposeDeath(chn *Chain, mpro *Model) (bool, error) {
	mcur := chn.Model
	chn.Death.propose()
	if mcur.NLayers() <= s.Options.NLMin {
		return false, nil
	}

	index := s.irand(1, mcur.NLayers()-1)
	if !mpro.DeleteInterface(index) {
		return false, nil
	}
	if err := s.computeMisfit(mpro); err != nil {
		return false, err
	}

	var pqratio float64
	if s.Options.BirthDeathFromPrior {
		pqratio = 1.0
	} else {
		logstd := s.Options.LogStdDecades
		vnew := mcur.Layers[index-1].Value
		vold := mcur.Layers[index].Value
		var vcpdf float64
		if s.Options.ValueLog10 {
			vcpdf = gaussianPDF(vnew, logstd, vold)
		} else {
			scale := (math.Pow(10, logstd) - math.Pow(10, -logstd)) / 2.0
			vcpdf = gaussianPDF(vnew, scale*vnew, vold)
		}
		pqratio = (s.Options.VMax - s.Options.VMin) * vcpdf
	}

	logar := math.Log(pqratio) - (mpro.Misfit-mcur.Misfit)/2.0/chn.Temperature
	if s.logUnif() < logar {
		chn.Death.accept()
		return true, nil
	}
	return false, nil
}

// proposeNuisanceChange perturbs one nuisance (geometry) parameter
// (spec.md §4.3 "Nuisance change").
func (s *Sampler) proposeNuisanceChange(chn *Chain, mpro *Model) (bool, error) {
	mcur := chn.Model
	chn.Nuisance.propose()

	ni := s.irand(0, mcur.NNuisances()-1)
	spec := s.Options.Nuisances[ni]
	delta := s.nrand() * spec.SDValueChange
	nv := mcur.Nuisances[ni] + delta
	if !isInBounds(spec.Min, spec.Max, nv) {
		return false, nil
	}
	mpro.Nuisances[ni] = nv
	if err := s.computeMisfit(mpro); err != nil {
		return false, err
	}

	logar := -(mpro.Misfit - mcur.Misfit) / 2.0 / chn.Temperature
	if s.logUnif() < logar {
		chn.Nuisance.accept()
		return true, nil
	}
	return false, nil
}

// proposeNoiseChange perturbs one multiplicative noise magnitude
// without re-running the forward model (spec.md §4.3 "Noise change").
func (s *Sampler) proposeNoiseChange(chn *Chain, mpro *Model) (bool, error) {
	mcur := chn.Model
	chn.Noise.propose()

	ni := s.irand(0, mcur.NNoises()-1)
	spec := s.Options.Noises[ni]
	delta := s.nrand() * spec.SDValueChange
	nv := mcur.Noises[ni] + delta
	if !isInBounds(spec.Min, spec.Max, nv) {
		return false, nil
	}

	s.applyNoiseChange(mpro, ni, nv)

	logar := -(mpro.Misfit - mcur.Misfit) / 2.0 / chn.Temperature
	if s.logUnif() < logar {
		chn.Noise.accept()
		return true, nil
	}
	return false, nil
}

// kernel identifies one proposal kernel in the enabled set.
type kernel int

const (
	kValueChange kernel = iota
	kMove
	kBirth
	kDeath
	kNuisance
	kNoise
)

// enabledKernels lists the proposal kernels available given this
// sampler's configuration: value/move/birth/death are always enabled;
// nuisance and noise are enabled only when their respective parameter
// lists are non-empty (spec.md §4.3, "uniformly choose one proposal
// kernel from the enabled set").
func (s *Sampler) enabledKernels() []kernel {
	k := []kernel{kValueChange, kMove, kBirth, kDeath}
	if len(s.Options.Nuisances) > 0 {
		k = append(k, kNuisance)
	}
	if len(s.Options.Noises) > 0 {
		k = append(k, kNoise)
	}
	return k
}

// proposeAndEvaluate picks one enabled kernel uniformly and executes it
// against a copy of the chain's current model.
func (s *Sampler) proposeAndEvaluate(chn *Chain) (Model, bool, error) {
	mpro := chn.Model.Clone()
	kernels := s.enabledKernels()
	k := kernels[s.rng.Intn(len(kernels))]

	var accept bool
	var err error
	switch k {
	case kValueChange:
		accept, err = s.proposeValueChange(chn, &mpro)
	case kMove:
		accept, err = s.proposeMove(chn, &mpro)
	case kBirth:
		accept, err = s.proposeBirth(chn, &mpro)
	case kDeath:
		accept, err = s.proposeDeath(chn, &mpro)
	case kNuisance:
		accept, err = s.proposeNuisanceChange(chn, &mpro)
	case kNoise:
		accept, err = s.proposeNoiseChange(chn, &mpro)
	}
	return mpro, accept, err
}
