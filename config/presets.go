package config

const (
	ChainMainnet = 0x1
	ChainGoerli  = 0x5
)

var presets = []Chain{
	{
		ChainID:      ChainMainnet,
		Contract:     "0xac1b824795e1eb1f6e609fe0da9b9af8beaab60f",
		RegistryID:   "0x23d5345c5c13180a8080bd5ddbe7cde64683755dcce6e734d95b7b573845facb",
		AvgBlockTime: 15,
		NodeList: []Node{
			{URL: "https://in3-v2.slock.it/mainnet/nd-1", Address: "0x45d45e6ff99e6c34a235d263965910298985fcfe", Props: "0xFFFF"},
			{URL: "https://in3-v2.slock.it/mainnet/nd-2", Address: "0x1fe2e9bf29aa1938859af64c413361227d04059a", Props: "0xFFFF"},
			{URL: "https://in3-v2.slock.it/mainnet/nd-3", Address: "0x0cea2ff03adcfa047e8f54f98d41d9147c3ccd4d", Props: "0xFFFF"},
			{URL: "https://in3-v2.slock.it/mainnet/nd-4", Address: "0xccd12a2222995e62eca64426989c2688d828aa47", Props: "0xFFFF"},
			{URL: "https://in3-v2.slock.it/mainnet/nd-5", Address: "0x510ee7f6f198e018e3529164da2473a96eeb3dc8", Props: "0xFFFF"},
		},
	},
	{
		ChainID:      ChainGoerli,
		Contract:     "0x5f51e413581dd76759e9eed51e63d14c8d1379c8",
		RegistryID:   "0x67c02e5e272f9d6b4a33716614061dd298283f86351079ef903bf0d4410a44ea",
		AvgBlockTime: 15,
		NodeList: []Node{
			{URL: "https://in3-v2.slock.it/goerli/nd-1", Address: "0x45d45e6ff99e6c34a235d263965910298985fcfe", Props: "0xFFFF"},
			{URL: "https://in3-v2.slock.it/goerli/nd-2", Address: "0x1fe2e9bf29aa1938859af64c413361227d04059a", Props: "0xFFFF"},
		},
	},
}

// Presets returns copies of the built-in chains.
func Presets() []Chain {
	out := make([]Chain, len(presets))
	for i, p := range presets {
		out[i] = cloneChain(p)
	}
	return out
}
