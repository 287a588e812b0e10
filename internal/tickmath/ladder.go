package tickmath

import "math/big"

// ratioLadder[k] = round(1.0001^(2^(k-42)) * 2^128): the multiplicative step
// for bit k of an X42 tick. Bits 0..41 cover the fractional tick range,
// bits 42..60 the whole-tick range up to MaxTickX42.
var ratioLadder [61]*big.Int

func init() {
	for k, s := range [61]string{
		"100000000000001a368d06580000c7002",
		"10000000000000346d1a0cb00001b8f24",
		"1000000000000068da34196000041daca",
		"10000000000000d1b46832c0000aea798",
		"10000000000001a368d06580002091742",
		"1000000000000346d1a0cb00006c14ec8",
		"100000000000068da34196000183f1ea5",
		"1000000000000d1b46832c0005b70419b",
		"1000000000001a368d065800162a8947b",
		"100000000000346d1a0cb000574716e0c",
		"10000000000068da341960015a563f071",
		"100000000000d1b46832c00563ccc3246",
		"100000000001a368d0658015841a9aa1c",
		"10000000000346d1a0cb0055fa3986a76",
		"1000000000068da341960157bc8452de2",
		"10000000000d1b46832c055e994dbbfa7",
		"10000000001a368d06581579b3afd0f22",
		"1000000000346d1a0cb055e56bb105fc7",
		"100000000068da3419615792e8a79d730",
		"1000000000d1b46832c55e461665899a3",
		"1000000001a368d06595790d41249460c",
		"100000000346d1a0cb55e41ed3b160507",
		"10000000068da3419757904eed1535c93",
		"100000000d1b4683315e40e2f180f7986",
		"100000001a368d066d7902da44c1da6e4",
		"10000000346d1a0d05e40a0633b13afef",
		"1000000068da341ab7902554298757ed7",
		"10000000d1b468381e408fd0271882e00",
		"10000001a368d07af9023485fa0aad9d0",
		"1000000346d1a120e408bed5810ef22bc",
		"100000068da342ed9022e668229d8f7a6",
		"1000000d1b46888a408bfc7c2c1d7d73b",
		"1000001a368d1bd102351d631c7575999",
		"100000346d1a62940901fa4aa893ed8f8",
		"10000068da3570f0257c61739935c10c4",
		"100000d1b46d9100a1a5ecddd50439a63",
		"100001a368e5de82e45c3715b89fcec9b",
		"10000346d1f6af0e7fd7a8c6e0f0bac6e",
		"1000068da4992651731bf906853b509b1",
		"10000d1b4be16e016b81af61bb7c0174c",
		"10001a36a27f65e2aa76c1b735c9af5c0",
		"1000346d6ff11672ae55ad00f5c38565c",
		"100068db8bac710cb295e9e1b089a0275",
		"1000d1b9c68abe5f76b30fb7581b74fb8",
		"1001a37e4a234cb0830516e519450a146",
		"100347278ab0e92ada25ab46019279f90",
		"10068efb00a525480a5d7fdc2ccf5998f",
		"100d20a63b4173839df9daaa568442ce5",
		"101a4c11c742dd7729738df5e966396f0",
		"1034c35c31f64cfa6dc0d6de43d0881d3",
		"106a34b78c8aaffbf81bed5a32b0fce74",
		"10d72a6a46ccd8bce9ae771b16294a7eb",
		"11b9a258e63928596dc757faa33154df7",
		"13a2e2bda04f8379f3cd17be5c343d452",
		"181954be69e0da8fe77f2ab42e87cf512",
		"244c2655d185a02908025287709061f74",
		"525816eeb9f935b1c616779e807e264b2",
		"1a7c8d00b551684ff4d31ae06501b81fa8",
		"2bd893d0b2df7c97884590c66cde3d18ca0",
		"78278e1e19e448cf8b95d2152dccf4128f29e",
		"38651b58d457501416feade3193a21b785e9f303f8",
	} {
		n, ok := new(big.Int).SetString(s, 16)
		if !ok {
			panic("tickmath: bad ladder constant " + s)
		}
		ratioLadder[k] = n
	}
}
