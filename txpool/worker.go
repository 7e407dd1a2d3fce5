package txpool

import (
	"github.com/taraxa-go/taraxa-node/common"
	"github.com/taraxa-go/taraxa-node/storage"
)

// StartWorkers spawns the pool's fixed-size verification worker pool.
// Workers exit cooperatively when Stop is called.
func (p *Pool) StartWorkers() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.verifyLoop()
	}
}

func (p *Pool) verifyLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case hash, ok := <-p.work:
			if !ok {
				return
			}
			p.verifyOne(hash)
		}
	}
}

func (p *Pool) verifyOne(hash common.Hash) {
	p.mu.Lock()
	tx, ok := p.unverified[hash]
	p.mu.Unlock()
	if !ok {
		return
	}

	_, err := tx.Validate(p.cfg.ChainID)

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.unverified, hash)
	if err != nil {
		log.WithError(err).Debugf("txpool: transaction %s failed verification", hash)
		if werr := p.store.WriteBatch([]storage.Op{
			storage.Put(storage.ColTransactionStatus, hash[:], encodeStatus(encodedStatus{Status: StatusInvalid})),
		}); werr != nil {
			log.WithError(werr).Error("txpool: failed to persist invalid status")
		}
		return
	}

	if werr := p.store.WriteBatch([]storage.Op{
		storage.Put(storage.ColTransactionStatus, hash[:], encodeStatus(encodedStatus{Status: StatusVerified})),
	}); werr != nil {
		log.WithError(werr).Error("txpool: failed to persist verified status")
		return
	}
	p.admitVerifiedLocked(hash, tx)
	p.emitAccepted(hash)
}
