package application

import (
	"errors"
	"fmt"

	"webcam-capture/internal/domain"
)

type opKind int

const (
	opRemoveInput opKind = iota
	opRemoveOutput
	opAddInput
	opAddOutput
)

func (k opKind) String() string {
	switch k {
	case opRemoveInput:
		return "remove-input"
	case opRemoveOutput:
		return "remove-output"
	case opAddInput:
		return "add-input"
	case opAddOutput:
		return "add-output"
	default:
		return "unknown"
	}
}

type txOp struct {
	kind   opKind
	device domain.CaptureDevice
	output domain.OutputKind
}

func (op txOp) String() string {
	if op.kind == opAddInput || op.kind == opRemoveInput {
		return fmt.Sprintf("%s(%s)", op.kind, op.device.ID)
	}
	return fmt.Sprintf("%s(%s)", op.kind, op.output)
}

// wiring то, что фактически подключено к сессии
type wiring struct {
	inputs  []domain.CaptureDevice
	outputs []domain.OutputKind
	preset  domain.Preset
}

func (w wiring) hasInput(id string) bool {
	for _, d := range w.inputs {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (w wiring) hasOutput(o domain.OutputKind) bool {
	for _, out := range w.outputs {
		if out == o {
			return true
		}
	}
	return false
}

// Transaction упорядоченный набор операций плюс целевой пресет.
// Удаления идут перед добавлениями.
type Transaction struct {
	ops    []txOp
	preset domain.Preset
	from   wiring
	to     wiring
}

// Empty true, если транзакция ничего не меняет
func (tx Transaction) Empty() bool {
	return len(tx.ops) == 0 && tx.from.preset == tx.preset
}

func planTransaction(from, to wiring) Transaction {
	tx := Transaction{preset: to.preset, from: from, to: to}
	for _, d := range from.inputs {
		if !to.hasInput(d.ID) {
			tx.ops = append(tx.ops, txOp{kind: opRemoveInput, device: d})
		}
	}
	for _, o := range from.outputs {
		if !to.hasOutput(o) {
			tx.ops = append(tx.ops, txOp{kind: opRemoveOutput, output: o})
		}
	}
	for _, d := range to.inputs {
		if !from.hasInput(d.ID) {
			tx.ops = append(tx.ops, txOp{kind: opAddInput, device: d})
		}
	}
	for _, o := range to.outputs {
		if !from.hasOutput(o) {
			tx.ops = append(tx.ops, txOp{kind: opAddOutput, output: o})
		}
	}
	return tx
}

// applyTransaction применяет транзакцию атомарно: либо сессия переходит в новое состояние,
// либо остается в прежнем. Отклоненные шаги откатываются здесь, отклоненный коммит откатывает сессия.
func applyTransaction(session domain.CaptureSession, tx Transaction, logger Logger) error {
	session.BeginConfiguration()

	var undo []func() error
	rollback := func(cause error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](); err != nil {
				logger.Error("Ошибка отката шага транзакции: %v", err)
				cause = errors.Join(cause, err)
			}
		}
		if err := session.CommitConfiguration(); err != nil {
			logger.Error("Ошибка коммита после отката: %v", err)
			cause = errors.Join(cause, err)
		}
		return cause
	}

	for _, op := range tx.ops {
		op := op
		var err error
		switch op.kind {
		case opRemoveInput:
			err = session.RemoveInput(op.device.ID)
			undo = append(undo, func() error { return session.AddInput(op.device) })
		case opRemoveOutput:
			err = session.RemoveOutput(op.output)
			undo = append(undo, func() error { return session.AddOutput(op.output) })
		case opAddInput:
			err = session.AddInput(op.device)
			undo = append(undo, func() error { return session.RemoveInput(op.device.ID) })
		case opAddOutput:
			err = session.AddOutput(op.output)
			undo = append(undo, func() error { return session.RemoveOutput(op.output) })
		}
		if err != nil {
			// неудавшийся шаг ничего не изменил
			undo = undo[:len(undo)-1]
			return rollback(fmt.Errorf("%s: %w", op, err))
		}
		logger.Debug("Транзакция: %s", op)
	}

	if !session.CanSetPreset(tx.preset) {
		return rollback(fmt.Errorf("%s: %w", tx.preset, domain.ErrPresetNotSupported))
	}
	if tx.preset != tx.from.preset {
		if err := session.SetPreset(tx.preset); err != nil {
			return rollback(fmt.Errorf("set preset %s: %w", tx.preset, err))
		}
		if tx.from.preset != "" {
			prev := tx.from.preset
			undo = append(undo, func() error { return session.SetPreset(prev) })
		}
	}

	// неудавшийся коммит сессия откатывает сама
	if err := session.CommitConfiguration(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
