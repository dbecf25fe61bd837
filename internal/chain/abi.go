package chain

// escrowABI covers the job escrow contract surface this service touches
const escrowABI = `[
  {
    "type": "function",
    "name": "createJob",
    "stateMutability": "payable",
    "inputs": [
      {"name": "_description", "type": "string"},
      {"name": "_escrowAmount", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "submitWork",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "_jobId", "type": "uint256"},
      {"name": "_submissionCID", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "approveWork",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "_jobId", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "jobCounter",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [
      {"name": "", "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "jobs",
    "stateMutability": "view",
    "inputs": [
      {"name": "", "type": "uint256"}
    ],
    "outputs": [
      {"name": "requester", "type": "address"},
      {"name": "worker", "type": "address"},
      {"name": "description", "type": "string"},
      {"name": "escrowAmount", "type": "uint256"},
      {"name": "submissionCID", "type": "string"},
      {"name": "isFulfilled", "type": "bool"},
      {"name": "isApproved", "type": "bool"}
    ]
  }
]`

// schemaRegistryABI is the Sign Protocol schema registration entry point
const schemaRegistryABI = `[
  {
    "type": "function",
    "name": "register",
    "stateMutability": "nonpayable",
    "inputs": [
      {
        "name": "schema",
        "type": "tuple",
        "components": [
          {"name": "registrant", "type": "address"},
          {"name": "revocable", "type": "bool"},
          {"name": "dataLocation", "type": "uint8"},
          {"name": "maxValidFor", "type": "uint64"},
          {"name": "hook", "type": "address"},
          {"name": "timestamp", "type": "uint64"},
          {"name": "data", "type": "string"}
        ]
      },
      {"name": "delegateSignature", "type": "bytes"}
    ],
    "outputs": [
      {"name": "", "type": "uint64"}
    ]
  },
  {
    "type": "event",
    "name": "SchemaRegistered",
    "anonymous": false,
    "inputs": [
      {"name": "schemaId", "type": "uint64", "indexed": false}
    ]
  }
]`

// JobStatusSchema is the attestation schema recorded for job status changes
const JobStatusSchema = `{"name":"JobStatus","data":[{"name":"jobCid","type":"string"},{"name":"status","type":"string"}]}`
