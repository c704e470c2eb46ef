package main

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"go.vocdoni.io/dvote/db"
)

// account record layout on the ledger tree: owner(20) | balance(32)
const accountRecordLength = 52

type Account struct {
	Address common.Address
	Owner   common.Address
	Balance *uint256.Int

	Modified bool
	isNew    bool
}

func (account *Account) record() []byte {
	data := make([]byte, accountRecordLength)
	copy(data[:20], account.Owner.Bytes())
	bal := account.Balance.Bytes32()
	copy(data[20:], bal[:])
	return data
}

func (account *Account) clone() *Account {
	dup := *account
	dup.Balance = new(uint256.Int).Set(account.Balance)
	return &dup
}

func (app *App) FetchAccount(address common.Address) (*Account, error) {
	//maybe a previous tx has been delivered but not yet written to db
	//check the map of temp accounts for a changed balance
	logs.log("searching account in temporary memory...")

	if v, ok := app.tempAccountMap[address]; ok {
		return v, nil
	}
	if v, ok := app.tempNewAccountMap[address]; ok {
		return v, nil
	}

	//read from db
	logs.log("fetching account from internal database...")

	_, value, err := app.accountTree.Get(address.Bytes())
	if err != nil {
		return nil, errors.New("Miss accountTree entry")
	}

	if len(value) < accountRecordLength {
		return nil, errors.New("Not enough data, some error occurred")
	}

	//fill values
	account := &Account{
		Address: address,
		Owner:   common.BytesToAddress(value[:20]),
		Balance: new(uint256.Int).SetBytes(value[20:accountRecordLength]),
	}

	app.tempAccountMap[address] = account
	logs.logAccount(account)

	return account, nil
}

func (app *App) WriteAccount(account *Account) {
	logs.log("Writting...  ")

	account.Modified = true
	if account.isNew {
		app.tempNewAccountMap[account.Address] = account
	} else {
		app.tempAccountMap[account.Address] = account
	}

	logs.logAccount(account)
}

func (app *App) commitAccountsToDb() {
	logs.log("Commiting accounts to db... ")

	accBatch := db.NewBatch(app.accountLedgerDb)
	wAc := app.accountDb.WriteTx()

	for _, account := range app.tempAccountMap {
		if account.Modified {
			account.commitAccountToDb(app, accBatch, wAc)
		}
	}

	for _, account := range app.tempNewAccountMap {
		if account.Modified {
			account.commitNewAccountToDb(app, accBatch, wAc)
		}
	}

	//write deliver txs results on db
	wAc.Commit()
	wAc.Discard()
	accBatch.Commit()
	accBatch.Discard()

	//reset account cache
	app.tempAccountMap = make(map[common.Address]*Account)
	app.tempNewAccountMap = make(map[common.Address]*Account)
}

func (account *Account) commitAccountToDb(app *App, accBatch *db.Batch, wAc db.WriteTx) {
	//add to the stream to be commited to db
	err := app.accountTree.UpdateWithTx(wAc, account.Address.Bytes(), account.record())
	if err != nil {
		logs.logError("Acctree update FATAL ERROR!!!", err)
		panic(err)
	}

	// reset the Modified flag
	account.Modified = false
}

func (account *Account) commitNewAccountToDb(app *App, accBatch *db.Batch, wAc db.WriteTx) {
	//add to the stream to be commited to db
	err1 := app.accountTree.AddWithTx(wAc, account.Address.Bytes(), account.record())
	if err1 != nil {
		logs.logError("Acctree update FATAL ERROR!!!", err1)
	}

	// reset the Modified flag
	account.Modified = false
	account.isNew = false

	//the following section maintains a db with the owner identities as keys
	//and account addresses as values (only if account watch is set)
	if !app.accountWatch {
		return
	}
	if account.Owner == (common.Address{}) {
		return
	}
	err := accBatch.Set(account.Owner.Bytes(), account.Address.Bytes())
	if err != nil {
		logs.logError("ACCOUNT DB WRITE ERROR!!!", err)
	}
}

// createTemplateAccount derives an owner keypair from the seed and funds a
// fresh smart account controlled by it. The private key is handed back so
// the builder (and the tests) can sign requests for the account.
func (app *App) createTemplateAccount(seed []byte, balance uint64) (*ecdsa.PrivateKey, common.Address) {
	//produce keypair
	privkey, err := crypto.ToECDSA(keccak(seed))
	if err != nil {
		logs.logError("template key derivation failed!!!", err)
		panic(err)
	}
	owner := crypto.PubkeyToAddress(privkey.PublicKey)

	//create and fund account
	account := &Account{
		Address: toAccountAddress(owner),
		Owner:   owner,
		Balance: uint256.NewInt(balance),
		isNew:   true,
	}

	//write to Dbs
	app.WriteAccount(account)

	return privkey, account.Address
}

// createSystemAccount registers an environment account (fee collector,
// bootloader) at its fixed address, owned by itself.
func (app *App) createSystemAccount(address common.Address) {
	account := &Account{
		Address: address,
		Owner:   address,
		Balance: new(uint256.Int),
		isNew:   true,
	}
	app.WriteAccount(account)
}

func (app *App) findAccountByOwner(owner common.Address) (*Account, error) {
	rTx := app.accountLedgerDb.ReadTx()
	address, err := rTx.Get(owner.Bytes())
	if err != nil {
		logs.log("Failed to get address by owner: ")
		return nil, err
	}

	account, err := app.FetchAccount(common.BytesToAddress(address))
	if err != nil {
		logs.logError("Account can't be found: ", err)
		return nil, err
	}
	logs.log("Found account:")
	logs.logAccount(account)

	return account, nil
}
