// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package util

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/term"

	"github.com/tesseralabs/arbiter/cmd/genericconf"
)

// OpenWallet unlocks the account named by walletConfig and returns transaction
// options bound to chainId. With OnlyCreateKey set it creates a fresh keystore
// account and returns an error telling the operator to re-run without the flag.
func OpenWallet(description string, walletConfig *genericconf.WalletConfig, chainId *big.Int) (*bind.TransactOpts, error) {
	if walletConfig.PrivateKey != "" {
		privateKey, err := crypto.HexToECDSA(walletConfig.PrivateKey)
		if err != nil {
			return nil, err
		}
		return bind.NewKeyedTransactorWithChainID(privateKey, chainId)
	}

	ks := keystore.NewKeyStore(
		walletConfig.Pathname,
		keystore.StandardScryptN,
		keystore.StandardScryptP,
	)
	creatingNew := len(ks.Accounts()) == 0
	if creatingNew && !walletConfig.OnlyCreateKey {
		return nil, fmt.Errorf("no wallet exists, re-run with --%s.wallet.only-create-key to create a wallet", description)
	}
	if !creatingNew && walletConfig.OnlyCreateKey {
		return nil, fmt.Errorf("wallet key already created, backup key (%s) and remove --%s.wallet.only-create-key to run normally", walletConfig.Pathname, description)
	}
	passOpt := walletConfig.Pwd()
	var password string
	if passOpt != nil {
		password = *passOpt
	} else {
		if creatingNew {
			fmt.Print("Enter new account password: ")
		} else {
			fmt.Print("Enter account password: ")
		}
		var err error
		password, err = readPass()
		if err != nil {
			return nil, err
		}
	}

	var account accounts.Account
	if creatingNew {
		var err error
		account, err = ks.NewAccount(password)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("wallet key created with address %s, backup wallet (%s) and remove --%s.wallet.only-create-key to run normally", account.Address.Hex(), walletConfig.Pathname, description)
	}
	if walletConfig.Account == "" {
		if len(ks.Accounts()) > 1 {
			names := make([]string, 0, len(ks.Accounts()))
			for _, acct := range ks.Accounts() {
				names = append(names, acct.Address.Hex())
			}
			return nil, fmt.Errorf("too many existing accounts, choose one: %s", strings.Join(names, ","))
		}
		account = ks.Accounts()[0]
	} else {
		var err error
		account, err = ks.Find(accounts.Account{Address: common.HexToAddress(walletConfig.Account)})
		if err != nil {
			return nil, err
		}
	}
	if err := ks.Unlock(account, password); err != nil {
		return nil, err
	}
	return bind.NewKeyStoreTransactorWithChainID(ks, account, chainId)
}

func readPass() (string, error) {
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	passphrase := strings.TrimSpace(string(password))
	return passphrase, nil
}
