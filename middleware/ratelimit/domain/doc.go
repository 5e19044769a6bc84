// Package domain define contratos e tipos de domínio para o rate limit por
// janela fixa, o limite global e o limite de concorrência do relay.
//
// Este pacote não depende de net/http nem de implementações concretas.
package domain
