package validate

// checks.go - los cuatro checks de validación: monotonía, convexidad, budget y paridad.

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
)

// --- monotonía ---

func (h *Harness) monotonicity(ctx context.Context, a ports.Artifact) (res domain.CheckResult, err error) {
	b, err := probeBackend(a)
	if err != nil {
		failed(&res, err)
		return res, nil
	}
	p := &prober{backend: b}
	defer func() { res.Probes = p.probes }()

	for _, pair := range h.cfg.ReserveGrid {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rx, ry := nano(pair.X), nano(pair.Y)
		var st domain.Storage
		for _, side := range sides {
			if err := h.monotoneGrid(p, side, rx, ry, &st); err != nil {
				failed(&res, err)
				return res, nil
			}
		}
	}

	for _, s := range randomStates(h.cfg.RandomStates, h.cfg.StateSalt) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := monotoneState(p, s); err != nil {
			failed(&res, err)
			return res, nil
		}
		post, err := p.exercise(s)
		if err == nil {
			err = monotoneState(p, post)
		}
		if err != nil {
			failed(&res, err)
			return res, nil
		}
	}
	res.Passed = true
	return res, nil
}

func (h *Harness) monotoneGrid(p *prober, side domain.Side, rx, ry uint64, st *domain.Storage) error {
	var prev, prevAmount uint64
	for i, size := range h.cfg.Sizes {
		amount := nano(size)
		out, err := p.price(side, amount, rx, ry, st)
		if err != nil {
			return err
		}
		if i > 0 && out < prev {
			return domain.NewPropertyViolation("monotonicity",
				domain.CallInputs{Side: side, Amount: amount, Output: out, ReserveX: rx, ReserveY: ry},
				fmt.Sprintf("output %d at amount %d is below %d at amount %d", out, amount, prev, prevAmount))
		}
		prev, prevAmount = out, amount
	}
	return nil
}

func monotoneState(p *prober, s probeState) error {
	for _, side := range sides {
		reserveIn, reserveOut := reserves(side, s.rx, s.ry)
		var prev, prevAmount uint64
		for i, amount := range curveInputs(reserveIn) {
			out, err := p.price(side, amount, s.rx, s.ry, &s.storage)
			if err != nil {
				return err
			}
			in := domain.CallInputs{Side: side, Amount: amount, Output: out, ReserveX: s.rx, ReserveY: s.ry, Step: s.seed}
			if out > reserveOut {
				return domain.NewPropertyViolation("monotonicity", in,
					fmt.Sprintf("output %d exceeds reserve %d", out, reserveOut))
			}
			if i > 0 && out < prev {
				return domain.NewPropertyViolation("monotonicity", in,
					fmt.Sprintf("output %d at amount %d is below %d at amount %d", out, amount, prev, prevAmount))
			}
			prev, prevAmount = out, amount
		}
	}
	return nil
}

// --- convexidad ---

func (h *Harness) convexity(ctx context.Context, a ports.Artifact) (res domain.CheckResult, err error) {
	b, err := probeBackend(a)
	if err != nil {
		failed(&res, err)
		return res, nil
	}
	p := &prober{backend: b}
	defer func() { res.Probes = p.probes }()

	for _, pair := range h.cfg.ReserveGrid {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rx, ry := nano(pair.X), nano(pair.Y)
		var st domain.Storage
		for _, side := range sides {
			if err := h.convexGrid(p, side, rx, ry, &st); err != nil {
				failed(&res, err)
				return res, nil
			}
		}
	}

	for _, s := range randomStates(h.cfg.RandomStates, h.cfg.StateSalt) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := h.convexState(p, s); err != nil {
			failed(&res, err)
			return res, nil
		}
		post, err := p.exercise(s)
		if err == nil {
			err = h.convexState(p, post)
		}
		if err != nil {
			failed(&res, err)
			return res, nil
		}
	}
	res.Passed = true
	return res, nil
}

// convexGrid comprueba que el marginal out(s+delta) - out(s) nunca suba más que el slack.
func (h *Harness) convexGrid(p *prober, side domain.Side, rx, ry uint64, st *domain.Storage) error {
	delta := nano(h.cfg.ConvexityDelta)
	slack := int64(h.cfg.ConvexitySlack)
	var prev int64
	var prevAmount uint64
	for i, size := range h.cfg.Sizes {
		amount := nano(size)
		lo, err := p.price(side, amount, rx, ry, st)
		if err != nil {
			return err
		}
		hi, err := p.price(side, amount+delta, rx, ry, st)
		if err != nil {
			return err
		}
		marginal := int64(hi) - int64(lo)
		if i > 0 && marginal > prev+slack {
			return domain.NewPropertyViolation("convexity",
				domain.CallInputs{Side: side, Amount: amount, Output: lo, ReserveX: rx, ReserveY: ry},
				fmt.Sprintf("marginal rose from %d at amount %d to %d at amount %d", prev, prevAmount, marginal, amount))
		}
		prev, prevAmount = marginal, amount
	}
	return nil
}

// convexState comprueba que las pendientes secantes de la curva nunca suban. Cada output
// arrastra hasta una unidad de redondeo, así que una secante puede subir 2*slack unidades.
func (h *Harness) convexState(p *prober, s probeState) error {
	for _, side := range sides {
		reserveIn, _ := reserves(side, s.rx, s.ry)
		inputs := curveInputs(reserveIn)
		outputs := make([]uint64, len(inputs))
		for i, amount := range inputs {
			out, err := p.price(side, amount, s.rx, s.ry, &s.storage)
			if err != nil {
				return err
			}
			outputs[i] = out
		}
		havePrev := false
		prevSlope, prevDin := 0.0, 0.0
		for i := 1; i < len(inputs); i++ {
			din := float64(inputs[i] - inputs[i-1])
			slope := (float64(outputs[i]) - float64(outputs[i-1])) / din
			tol := float64(2*h.cfg.ConvexitySlack)/min(din, prevDin) + 1e-12*math.Abs(prevSlope)
			if havePrev && slope > prevSlope+tol {
				return domain.NewPropertyViolation("convexity",
					domain.CallInputs{Side: side, Amount: inputs[i], Output: outputs[i], ReserveX: s.rx, ReserveY: s.ry, Step: s.seed},
					fmt.Sprintf("slope rose from %.9f to %.9f between amounts %d and %d", prevSlope, slope, inputs[i-1], inputs[i]))
			}
			prevSlope, prevDin, havePrev = slope, din, true
		}
	}
	return nil
}

// --- budget de cómputo ---

func (h *Harness) budget(ctx context.Context, a ports.Artifact) (res domain.BudgetResult, err error) {
	res.Limit = h.cfg.Budget
	b, err := a.NewInterpreted()
	if errors.Is(err, domain.ErrFormUnavailable) {
		res.Skipped = true
		return res, nil
	}
	if err != nil {
		failed(&res.CheckResult, err)
		return res, nil
	}
	p := &prober{backend: b, limit: h.cfg.Budget}
	defer func() {
		res.Probes = p.probes
		res.PeakUnits = p.peak
	}()
	delta := nano(h.cfg.ConvexityDelta)

	for _, pair := range h.cfg.ReserveGrid {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rx, ry := nano(pair.X), nano(pair.Y)
		var st domain.Storage
		for _, side := range sides {
			for _, size := range h.cfg.Sizes {
				amount := nano(size)
				for _, in := range []uint64{amount, amount + delta} {
					if _, err := p.price(side, in, rx, ry, &st); err != nil {
						failed(&res.CheckResult, err)
						return res, nil
					}
				}
			}
		}
	}

	for _, s := range randomStates(h.cfg.RandomStates, h.cfg.StateSalt) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		post, err := p.exercise(s)
		for _, st := range []probeState{s, post} {
			if err != nil {
				break
			}
			for _, side := range sides {
				reserveIn, _ := reserves(side, st.rx, st.ry)
				for _, amount := range curveInputs(reserveIn) {
					if _, err = p.price(side, amount, st.rx, st.ry, &st.storage); err != nil {
						break
					}
				}
				if err != nil {
					break
				}
			}
		}
		if err != nil {
			failed(&res.CheckResult, err)
			return res, nil
		}
	}
	res.Passed = true
	return res, nil
}

// --- paridad ---

func (h *Harness) parity(ctx context.Context, a ports.Artifact) (res domain.ParityResult, err error) {
	nat, errN := a.NewNative()
	interp, errI := a.NewInterpreted()
	if errors.Is(errN, domain.ErrFormUnavailable) || errors.Is(errI, domain.ErrFormUnavailable) {
		res.Skipped = true
		return res, nil
	}
	if err := errors.Join(errN, errI); err != nil {
		failed(&res.CheckResult, err)
		return res, nil
	}
	pn, pi := &prober{backend: nat}, &prober{backend: interp}
	defer func() { res.Probes = pn.probes + pi.probes }()

	var mismatch error
	for _, s := range randomStates(h.cfg.ParitySamples, h.cfg.ParitySeed) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Samples++
		if err := h.paritySample(&res, pn, pi, s); err != nil && mismatch == nil {
			mismatch = err
		}
	}
	if mismatch != nil {
		failed(&res.CheckResult, mismatch)
		return res, nil
	}
	res.Passed = true
	return res, nil
}

// paritySample compara una cotización y el storage que deja cada forma tras notify.
// El peor delta se registra coincida o no la muestra.
func (h *Harness) paritySample(res *domain.ParityResult, pn, pi *prober, s probeState) error {
	side := domain.Side(s.seed & 1)
	reserveIn, _ := reserves(side, s.rx, s.ry)
	amount := 1_000_000 + mix(s.seed^0xa5a5a5a5a5a5a5a5)%max(reserveIn/5, 1)
	in := domain.CallInputs{Side: side, Amount: amount, ReserveX: s.rx, ReserveY: s.ry, Step: s.seed}

	stN, stI := s.storage, s.storage
	outN, errN := pn.price(side, amount, s.rx, s.ry, &stN)
	outI, errI := pi.price(side, amount, s.rx, s.ry, &stI)
	if (errN == nil) != (errI == nil) {
		return domain.NewParityViolation("parity", in, fmt.Sprintf("native: %v, interpreted: %v", errN, errI))
	}
	if errN != nil {
		return nil
	}

	abs, rel := domain.RelDelta(outN, outI)
	if abs > res.WorstAbs {
		res.WorstAbs = abs
	}
	if rel > res.WorstRel {
		res.WorstRel = rel
	}
	in.Output = outN
	if abs > h.cfg.ParityAbsTol || rel > h.cfg.ParityRelTol {
		return domain.NewParityViolation("parity", in,
			fmt.Sprintf("native %d, interpreted %d (abs %d, rel %.3g)", outN, outI, abs, rel))
	}

	call := domain.NotifyCall{Side: side, Input: amount, Output: outN, ReserveX: s.rx, ReserveY: s.ry, Step: s.seed}
	errN, errI = pn.notify(call, &stN), pi.notify(call, &stI)
	if (errN == nil) != (errI == nil) {
		return domain.NewParityViolation("parity", call.Inputs(), fmt.Sprintf("notify native: %v, interpreted: %v", errN, errI))
	}
	if stN != stI {
		return domain.NewParityViolation("parity", call.Inputs(), "storage diverged after notify")
	}
	return nil
}
