package directory

import "github.com/simplysimi/brains/internal/domain"

// seedPool is the static fallback list served when the social graph API is
// unreachable. Well-known accounts with stable avatars.
var seedPool = []domain.UserIdentity{
	{Fid: 3, Username: "dwr.eth", DisplayName: "Dan Romero", PfpURL: "https://picsum.photos/200/200?random=1", FollowerCount: 45000},
	{Fid: 1, Username: "vitalik.eth", DisplayName: "Vitalik Buterin", PfpURL: "https://picsum.photos/200/200?random=2", FollowerCount: 120000},
	{Fid: 2, Username: "jessepollak", DisplayName: "Jesse Pollak", PfpURL: "https://picsum.photos/200/200?random=3", FollowerCount: 35000},
	{Fid: 4, Username: "balajis.eth", DisplayName: "Balaji Srinivasan", PfpURL: "https://picsum.photos/200/200?random=4", FollowerCount: 85000},
	{Fid: 5, Username: "patrickalphac", DisplayName: "Patrick Collins", PfpURL: "https://picsum.photos/200/200?random=5", FollowerCount: 25000},
	{Fid: 6, Username: "naval", DisplayName: "Naval Ravikant", PfpURL: "https://picsum.photos/200/200?random=6", FollowerCount: 95000},
	{Fid: 7, Username: "hayden.eth", DisplayName: "Hayden Adams", PfpURL: "https://picsum.photos/200/200?random=7", FollowerCount: 42000},
	{Fid: 8, Username: "linda", DisplayName: "Linda Xie", PfpURL: "https://picsum.photos/200/200?random=8", FollowerCount: 38000},
	{Fid: 9, Username: "cdixon.eth", DisplayName: "Chris Dixon", PfpURL: "https://picsum.photos/200/200?random=9", FollowerCount: 78000},
	{Fid: 10, Username: "pmarca", DisplayName: "Marc Andreessen", PfpURL: "https://picsum.photos/200/200?random=10", FollowerCount: 110000},
	{Fid: 11, Username: "varunsrin.eth", DisplayName: "Varun Srinivasan", PfpURL: "https://picsum.photos/200/200?random=11", FollowerCount: 33000},
	{Fid: 12, Username: "ace", DisplayName: "Ace", PfpURL: "https://picsum.photos/200/200?random=12", FollowerCount: 21000},
	{Fid: 13, Username: "ted", DisplayName: "Ted", PfpURL: "https://picsum.photos/200/200?random=13", FollowerCount: 19000},
	{Fid: 14, Username: "gakonst", DisplayName: "Georgios Konstantopoulos", PfpURL: "https://picsum.photos/200/200?random=14", FollowerCount: 47000},
	{Fid: 15, Username: "samczsun", DisplayName: "samczsun", PfpURL: "https://picsum.photos/200/200?random=15", FollowerCount: 64000},
	{Fid: 16, Username: "sassal.eth", DisplayName: "Anthony Sassano", PfpURL: "https://picsum.photos/200/200?random=16", FollowerCount: 52000},
	{Fid: 17, Username: "ccarella.eth", DisplayName: "Chris Carella", PfpURL: "https://picsum.photos/200/200?random=17", FollowerCount: 18000},
	{Fid: 18, Username: "jacob", DisplayName: "Jacob Horne", PfpURL: "https://picsum.photos/200/200?random=18", FollowerCount: 29000},
	{Fid: 19, Username: "df", DisplayName: "David Furlong", PfpURL: "https://picsum.photos/200/200?random=19", FollowerCount: 26000},
	{Fid: 20, Username: "les", DisplayName: "Les Greys", PfpURL: "https://picsum.photos/200/200?random=20", FollowerCount: 15000},
	{Fid: 21, Username: "horsefacts.eth", DisplayName: "horsefacts", PfpURL: "https://picsum.photos/200/200?random=21", FollowerCount: 31000},
	{Fid: 22, Username: "july", DisplayName: "July", PfpURL: "https://picsum.photos/200/200?random=22", FollowerCount: 17000},
	{Fid: 23, Username: "keccers.eth", DisplayName: "Kate", PfpURL: "https://picsum.photos/200/200?random=23", FollowerCount: 22000},
	{Fid: 24, Username: "deodad", DisplayName: "Tony D'Addeo", PfpURL: "https://picsum.photos/200/200?random=24", FollowerCount: 14000},
}

// SeedPool returns a copy of up to count seed identities.
func SeedPool(count int) []domain.UserIdentity {
	if count <= 0 || count > len(seedPool) {
		count = len(seedPool)
	}

	out := make([]domain.UserIdentity, count)
	copy(out, seedPool[:count])
	return out
}
