package service

import (
	"satsledger/models"
)

// CheckWithdrawalEligibility applies the wager requirement: everything deposited must
// have been wagered at least once before any withdrawal is accepted. The wallet must be
// the locked read that the following balance check also uses. Never mutates.
func CheckWithdrawalEligibility(wallet *models.Wallet) error {
	if shortfall := wallet.WagerShortfall(); shortfall > 0 {
		return NewWagerRequirementNotMet(shortfall)
	}
	return nil
}
