// Package chain reads and writes the job escrow contract and registers the
// job status attestation schema.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrReadOnly is returned by writes when no signing key is configured
	ErrReadOnly = errors.New("chain client has no signing key")

	// ErrReverted is returned when a mined transaction failed
	ErrReverted = errors.New("transaction reverted")

	// ErrNoRegistry is returned when the schema registry address is not configured
	ErrNoRegistry = errors.New("schema registry address not configured")
)

// Config holds chain connection settings
type Config struct {
	RPCURL                string
	ChainID               int64
	ContractAddress       string
	SchemaRegistryAddress string
	PrivateKey            string
	ReceiptTimeout        time.Duration
}

// OnchainJob is one entry of the contract's jobs mapping
type OnchainJob struct {
	Index         *big.Int `json:"index"`
	Requester     string   `json:"requester"`
	Worker        string   `json:"worker"`
	Description   string   `json:"description"`
	EscrowAmount  *big.Int `json:"escrowAmount"`
	SubmissionCID string   `json:"submissionCID"`
	IsFulfilled   bool     `json:"isFulfilled"`
	IsApproved    bool     `json:"isApproved"`
}

// schemaTuple mirrors Sign Protocol's Schema struct
type schemaTuple struct {
	Registrant   common.Address
	Revocable    bool
	DataLocation uint8
	MaxValidFor  uint64
	Hook         common.Address
	Timestamp    uint64
	Data         string
}

// Client talks to the escrow contract over JSON-RPC
type Client struct {
	eth          *ethclient.Client
	escrowABI    abi.ABI
	escrow       *bind.BoundContract
	registryABI  abi.ABI
	registry     *bind.BoundContract
	registryAddr common.Address
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	timeout      time.Duration
	logger       *slog.Logger
}

// Dial connects to the RPC endpoint and binds the configured contracts
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid escrow contract address %q", cfg.ContractAddress)
	}

	escrowParsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}
	registryParsed, err := abi.JSON(strings.NewReader(schemaRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema registry ABI: %w", err)
	}

	logger.Info("Connecting to chain RPC", slog.String("rpc_url", cfg.RPCURL))

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC: %w", err)
	}

	c := &Client{
		eth:         eth,
		escrowABI:   escrowParsed,
		registryABI: registryParsed,
		timeout:     cfg.ReceiptTimeout,
		logger:      logger,
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Minute
	}

	escrowAddr := common.HexToAddress(cfg.ContractAddress)
	c.escrow = bind.NewBoundContract(escrowAddr, escrowParsed, eth, eth, eth)

	if cfg.SchemaRegistryAddress != "" {
		if !common.IsHexAddress(cfg.SchemaRegistryAddress) {
			eth.Close()
			return nil, fmt.Errorf("invalid schema registry address %q", cfg.SchemaRegistryAddress)
		}
		c.registryAddr = common.HexToAddress(cfg.SchemaRegistryAddress)
		c.registry = bind.NewBoundContract(c.registryAddr, registryParsed, eth, eth, eth)
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	} else {
		c.chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("failed to read chain id: %w", err)
		}
	}

	logger.Info("Chain client ready",
		slog.String("chain_id", c.chainID.String()),
		slog.String("escrow", escrowAddr.Hex()),
		slog.Bool("can_sign", c.key != nil),
	)
	return c, nil
}

// JobCounter reads the contract's job counter
func (c *Client) JobCounter(ctx context.Context) (*big.Int, error) {
	return c.jobCounter(&bind.CallOpts{Context: ctx})
}

func (c *Client) jobCounter(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := c.escrow.Call(opts, &out, "jobCounter"); err != nil {
		return nil, fmt.Errorf("failed to read jobCounter: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected jobCounter output length %d", len(out))
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Job reads one entry of the jobs mapping
func (c *Client) Job(ctx context.Context, index *big.Int) (*OnchainJob, error) {
	return c.job(&bind.CallOpts{Context: ctx}, index)
}

func (c *Client) job(opts *bind.CallOpts, index *big.Int) (*OnchainJob, error) {
	var out []interface{}
	if err := c.escrow.Call(opts, &out, "jobs", index); err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", index, err)
	}
	job, err := decodeJob(out)
	if err != nil {
		return nil, err
	}
	job.Index = new(big.Int).Set(index)
	return job, nil
}

// CreateJob funds a new escrow and returns the tx hash with the contract job id
func (c *Client) CreateJob(ctx context.Context, description string, amount *big.Int) (domain.EscrowReceipt, error) {
	receipt, err := c.transact(ctx, c.escrow, amount, "createJob", description, amount)
	if err != nil {
		return domain.EscrowReceipt{}, err
	}

	// The contract stores the job under the pre-increment counter value.
	// Later createJob calls in the same block push the counter further, so
	// walk back until the entry is ours.
	opts := &bind.CallOpts{Context: ctx, BlockNumber: receipt.BlockNumber}
	counter, err := c.jobCounter(opts)
	if err != nil {
		return domain.EscrowReceipt{}, err
	}

	jobID, err := findCreatedJob(counter, maxCreatedJobScan, func(index *big.Int) (*OnchainJob, error) {
		return c.job(opts, index)
	}, c.from, description, amount)
	if err != nil {
		return domain.EscrowReceipt{}, fmt.Errorf("failed to locate job created by %s: %w", receipt.TxHash.Hex(), err)
	}

	return domain.EscrowReceipt{TxHash: receipt.TxHash.Hex(), JobID: jobID}, nil
}

// maxCreatedJobScan bounds how many entries below the counter CreateJob inspects
const maxCreatedJobScan = 32

// findCreatedJob returns the highest index below counter whose entry was
// created by from with description and amount
func findCreatedJob(counter *big.Int, limit int, read func(*big.Int) (*OnchainJob, error), from common.Address, description string, amount *big.Int) (*big.Int, error) {
	index := new(big.Int).Sub(counter, big.NewInt(1))
	for i := 0; i < limit && index.Sign() >= 0; i++ {
		job, err := read(index)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(job.Requester, from.Hex()) &&
			job.Description == description &&
			job.EscrowAmount != nil && job.EscrowAmount.Cmp(amount) == 0 {
			return new(big.Int).Set(index), nil
		}
		index.Sub(index, big.NewInt(1))
	}
	return nil, errors.New("no matching job entry near the counter")
}

// WorkState reports whether the contract already holds the submission or
// the approval for chainJobID
func (c *Client) WorkState(ctx context.Context, chainJobID *big.Int) (domain.EscrowState, error) {
	job, err := c.Job(ctx, chainJobID)
	if err != nil {
		return domain.EscrowState{}, err
	}
	return domain.EscrowState{IsFulfilled: job.IsFulfilled, IsApproved: job.IsApproved}, nil
}

func (c *Client) SubmitWork(ctx context.Context, chainJobID *big.Int, submission string) (string, error) {
	receipt, err := c.transact(ctx, c.escrow, nil, "submitWork", chainJobID, submission)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

func (c *Client) ApproveWork(ctx context.Context, chainJobID *big.Int) (string, error) {
	receipt, err := c.transact(ctx, c.escrow, nil, "approveWork", chainJobID)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// RegisterJobStatusSchema registers the JobStatus schema and returns its id as hex
func (c *Client) RegisterJobStatusSchema(ctx context.Context) (string, error) {
	if c.registry == nil {
		return "", ErrNoRegistry
	}
	if c.key == nil {
		return "", ErrReadOnly
	}

	receipt, err := c.transact(ctx, c.registry, nil, "register", newJobStatusSchema(c.from), []byte{})
	if err != nil {
		return "", err
	}
	return schemaIDFromLogs(c.registryABI, c.registryAddr, receipt.Logs)
}

func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, value *big.Int, method string, args ...interface{}) (*types.Receipt, error) {
	if c.key == nil {
		return nil, ErrReadOnly
	}

	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = value

	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	c.logger.Info("Transaction sent",
		slog.String("method", method),
		slog.String("tx_hash", tx.Hash().Hex()),
	)

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s receipt: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s %s", ErrReverted, method, tx.Hash().Hex())
	}

	c.logger.Info("Transaction mined",
		slog.String("method", method),
		slog.String("tx_hash", tx.Hash().Hex()),
		slog.Uint64("block", receipt.BlockNumber.Uint64()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return receipt, nil
}

// Close releases the RPC connection
func (c *Client) Close() {
	c.eth.Close()
}

func newJobStatusSchema(registrant common.Address) schemaTuple {
	return schemaTuple{
		Registrant:   registrant,
		Revocable:    true,
		DataLocation: 0, // on-chain
		Data:         JobStatusSchema,
	}
}

func decodeJob(out []interface{}) (*OnchainJob, error) {
	if len(out) != 7 {
		return nil, fmt.Errorf("unexpected jobs output length %d", len(out))
	}

	requester, ok := out[0].(common.Address)
	if !ok {
		return nil, errors.New("jobs: requester is not an address")
	}
	worker, ok := out[1].(common.Address)
	if !ok {
		return nil, errors.New("jobs: worker is not an address")
	}
	description, ok := out[2].(string)
	if !ok {
		return nil, errors.New("jobs: description is not a string")
	}
	escrow, ok := out[3].(*big.Int)
	if !ok {
		return nil, errors.New("jobs: escrowAmount is not a uint256")
	}
	submission, ok := out[4].(string)
	if !ok {
		return nil, errors.New("jobs: submissionCID is not a string")
	}
	fulfilled, ok := out[5].(bool)
	if !ok {
		return nil, errors.New("jobs: isFulfilled is not a bool")
	}
	approved, ok := out[6].(bool)
	if !ok {
		return nil, errors.New("jobs: isApproved is not a bool")
	}

	return &OnchainJob{
		Requester:     requester.Hex(),
		Worker:        worker.Hex(),
		Description:   description,
		EscrowAmount:  escrow,
		SubmissionCID: submission,
		IsFulfilled:   fulfilled,
		IsApproved:    approved,
	}, nil
}

func schemaIDFromLogs(registryABI abi.ABI, registry common.Address, logs []*types.Log) (string, error) {
	event, ok := registryABI.Events["SchemaRegistered"]
	if !ok {
		return "", errors.New("schema registry ABI has no SchemaRegistered event")
	}

	for _, l := range logs {
		if l.Address != registry || len(l.Topics) == 0 || l.Topics[0] != event.ID {
			continue
		}

		out, err := registryABI.Unpack("SchemaRegistered", l.Data)
		if err != nil {
			return "", fmt.Errorf("failed to decode SchemaRegistered: %w", err)
		}
		if len(out) != 1 {
			return "", fmt.Errorf("unexpected SchemaRegistered field count %d", len(out))
		}
		id, ok := out[0].(uint64)
		if !ok {
			return "", errors.New("SchemaRegistered schemaId is not a uint64")
		}
		return fmt.Sprintf("0x%x", id), nil
	}
	return "", errors.New("no SchemaRegistered event in receipt")
}
