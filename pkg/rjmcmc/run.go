package rjmcmc

import "math"

// Run executes nsamples across nchains tempered chains to completion,
// per spec.md §4.3. Chains are reset to the prior on sample 0 and
// evolved by proposal-kernel execution and parallel-tempering swaps
// thereafter.
func (s *Sampler) Run() (*Result, error) {
	ladder := s.temperatureLadder()
	chains := make([]Chain, s.Options.NChains)
	for ci := range chains {
		chains[ci].Temperature = ladder[ci]
		chains[ci].SwapHistogram = make([]int, s.Options.NChains)
	}

	res := &Result{}
	haveBest := false

	for si := 0; si < s.Options.NSamples; si++ {
		for ci := range chains {
			chn := &chains[ci]

			if si == 0 {
				m, err := s.choosefromprior()
				if err != nil {
					return nil, err
				}
				chn.Model = m
			} else {
				mpro, accept, err := s.proposeAndEvaluate(chn)
				if err != nil {
					return nil, err
				}
				if accept {
					chn.Model = mpro
				}
			}

			if chn.Temperature == 1.0 {
				if !haveBest {
					res.HighestLikelihood = chn.Model.Clone()
					res.LowestMisfit = chn.Model.Clone()
					haveBest = true
				} else {
					if chn.Model.LogPPD() > res.HighestLikelihood.LogPPD() {
						res.HighestLikelihood = chn.Model.Clone()
					}
					if s.normalisedMisfit(chn.Model) < s.normalisedMisfit(res.LowestMisfit) {
						res.LowestMisfit = chn.Model.Clone()
					}
				}
				if s.shouldIncludeInMaps(si) {
					res.Ensemble = append(res.Ensemble, chn.Model.Clone())
				}
			}

			if s.shouldSaveConvergenceRecord(si) {
				recordConvergence(chn, si)
			}
		}

		// Parallel tempering: swap temperatures between chain slots
		// i and a uniformly chosen j<=i, i descending from the top.
		for i := len(chains) - 1; i >= 1; i-- {
			j := s.irand(0, i)
			chains[i].SwapHistogram[j]++
			if i != j {
				proposeChainSwap(&chains[i], &chains[j], s.logUnif())
			}
		}
	}

	res.Chains = chains
	return res, nil
}

func proposeChainSwap(a, b *Chain, logu float64) bool {
	logar := (1.0/a.Temperature - 1.0/b.Temperature) * (a.Model.Misfit - b.Model.Misfit)
	if logu < logar {
		a.Temperature, b.Temperature = b.Temperature, a.Temperature
		return true
	}
	return false
}

// shouldIncludeInMaps implements spec.md §4.3's "Sample inclusion" rule:
// T=1.0 is checked by the caller; here only the burn-in/thinning gate.
func (s *Sampler) shouldIncludeInMaps(si int) bool {
	if si < s.Options.NBurnin {
		return false
	}
	return (si-s.Options.NBurnin)%s.Options.ThinRate == 0
}

// shouldSaveConvergenceRecord implements spec.md §4.3's "report
// schedule": si in {0, nsamples-1}, or si % min(10^floor(log10 si),
// thinrate) == 0.
func (s *Sampler) shouldSaveConvergenceRecord(si int) bool {
	if si == 0 || si == s.Options.NSamples-1 {
		return true
	}
	k := int(math.Pow(10, math.Floor(math.Log10(float64(si)))))
	if k > s.Options.ThinRate {
		k = s.Options.ThinRate
	}
	if k <= 0 {
		k = 1
	}
	return si%k == 0
}

func recordConvergence(chn *Chain, si int) {
	h := &chn.History
	h.Sample = append(h.Sample, si)
	h.Temperature = append(h.Temperature, chn.Temperature)
	h.NLayers = append(h.NLayers, chn.Model.NLayers())
	h.Misfit = append(h.Misfit, chn.Model.Misfit)
	h.LogPPD = append(h.LogPPD, chn.Model.LogPPD())
	h.ArValueChange = append(h.ArValueChange, chn.ValueChange.AcceptRate())
	h.ArMove = append(h.ArMove, chn.Move.AcceptRate())
	h.ArBirth = append(h.ArBirth, chn.Birth.AcceptRate())
	h.ArDeath = append(h.ArDeath, chn.Death.AcceptRate())
	h.ArNuisance = append(h.ArNuisance, chn.Nuisance.AcceptRate())
	h.ArNoise = append(h.ArNoise, chn.Noise.AcceptRate())
}
